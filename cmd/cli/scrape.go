package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"handbook-scraper/internal/config"
	"handbook-scraper/internal/crawler"
	"handbook-scraper/internal/ioformats"
	"handbook-scraper/internal/pipeline"
	"handbook-scraper/internal/telemetry"
)

func newScrapeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Crawl the handbook and write the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}

			tel, err := telemetry.Setup(ctx, "handbook-scraper", cfg.Telemetry)
			if err != nil {
				return err
			}
			defer func() {
				if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Warnf("telemetry shutdown: %v", err)
				}
			}()

			var popts []pipeline.Option
			if cfg.CodesFile != "" {
				codes, err := ioformats.ReadCodes(cfg.CodesFile)
				if err != nil {
					return fmt.Errorf("read codes: %w", err)
				}
				log.Infof("restricting to %d codes from %s", len(codes), cfg.CodesFile)
				popts = append(popts, pipeline.WithCodes(codes))
			}

			store, err := openHistory(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			if store != nil {
				defer store.Close()
			}

			client := crawler.NewHTTPClient(crawler.OptionsFromConfig(cfg, log))
			log.Infof("scraping %s (%s %d)", cfg.ResolvedSearchURL(), cfg.StudyPeriod, cfg.Year)
			snap, err := pipeline.New(cfg, client, log, popts...).Run(ctx)
			if err != nil {
				return err
			}

			if store != nil {
				prev, err := store.Latest(ctx)
				if err != nil {
					log.Warnf("read previous run: %v", err)
				}
				switch {
				case prev == nil:
					log.Infof("first recorded run, version %s", snap.Version)
				case prev.Version == snap.Version:
					log.Infof("content unchanged since %s (version %s)", prev.GeneratedAt, snap.Version)
				default:
					log.Infof("content changed: version %s -> %s", prev.Version, snap.Version)
				}
				if _, err := store.Record(ctx, snap, cfg.Output); err != nil {
					log.Warnf("record run: %v", err)
				}
			}

			fmt.Println(okStyle.Render(fmt.Sprintf("Saved %d subjects to %s", snap.Stats.TotalSaved, cfg.Output)) +
				mutedStyle.Render(fmt.Sprintf(" (found %d, skipped %d, version %s)", snap.Stats.TotalFound, snap.Stats.Skipped, snap.Version)))
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}
