package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"handbook-scraper/internal/config"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded scrape runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			store, err := openHistory(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			if store == nil {
				return errors.New("run history is disabled, set --history-dsn or HANDBOOK_HISTORY_DSN")
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render(fmt.Sprintf("Last %d runs", len(runs))))
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Recorded", "Version", "Period", "Year", "Found", "Saved", "Skipped", "Output"})
			for _, r := range runs {
				t.AppendRow(table.Row{
					r.RecordedAt.Local().Format(time.DateTime),
					r.Version,
					r.StudyPeriod,
					r.Year,
					r.Stats.TotalFound,
					r.Stats.TotalSaved,
					r.Stats.Skipped,
					r.Output,
				})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "runs to show")
	config.RegisterHistoryFlags(cmd.Flags())
	return cmd
}
