package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"handbook-scraper/internal/config"
	"handbook-scraper/internal/crawler"
	"handbook-scraper/internal/history"
	"handbook-scraper/internal/pipeline"
	"handbook-scraper/internal/server"
	"handbook-scraper/internal/telemetry"
	"handbook-scraper/pkg/logger"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:           "handbook-server",
		Short:         "Serves the handbook snapshot and triggers refresh crawls",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			l, err := logger.NewWithLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			return serve(cfg, l)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "handbook.json5", "json5 config file, missing is fine")
	config.RegisterFlags(cmd.Flags())
	config.RegisterServerFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(cfg config.Config, l *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.Setup(ctx, "handbook-server", cfg.Telemetry)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	opts := server.Options{
		SnapshotPath:  cfg.Output,
		RefreshSecret: cfg.Server.RefreshSecret,
		Logger:        l,
		NewCrawler: func() server.Crawler {
			client := crawler.NewHTTPClient(crawler.OptionsFromConfig(cfg, l))
			return pipeline.New(cfg, client, l.With("component", "refresh"))
		},
	}
	if cfg.History.DSN != "" {
		store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		opts.History = store
	}
	if cfg.Server.RefreshSecret == "" {
		l.Warnf("no refresh secret configured, POST /api/handbook/refresh is open")
	}

	svc := server.New(ctx, opts)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      svc.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		l.Infof("server listening on %s, serving %s", cfg.Server.Addr, cfg.Output)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errc:
		return err
	}
	l.Infof("shutting down...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	// abandon a running refresh, its snapshot is only written at the end
	cancel()
	if err := svc.Wait(shutdownCtx); err != nil {
		l.Warnf("refresh did not stop: %v", err)
	}
	l.Infof("bye")
	return nil
}
