package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"handbook-scraper/internal/config"
	"handbook-scraper/internal/ioformats"
	"handbook-scraper/internal/models"
)

var exporters = map[string]func(io.Writer, []models.SubjectRecord) error{
	"ndjson": ioformats.WriteNDJSON,
	"csv":    ioformats.WriteCSV,
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Re-emit a written snapshot as ndjson or csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			write, ok := exporters[format]
			if !ok {
				return fmt.Errorf("unknown format %q, want ndjson or csv", format)
			}
			cfg, _, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			snap, err := ioformats.ReadSnapshot(cfg.Output)
			if err != nil {
				return err
			}

			if to == "" {
				return write(os.Stdout, snap.Items)
			}
			f, err := os.Create(to)
			if err != nil {
				return fmt.Errorf("create %s: %w", to, err)
			}
			if err := write(f, snap.Items); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "ndjson", "ndjson or csv")
	cmd.Flags().StringVarP(&to, "out", "w", "", "write here instead of stdout")
	cmd.Flags().StringP("output", "o", config.DefaultOutput, "snapshot to read")
	return cmd
}
