package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"handbook-scraper/internal/config"
	"handbook-scraper/internal/history"
	"handbook-scraper/pkg/logger"
)

const defaultConfigFile = "handbook.json5"

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "handbook",
		Short: "Scrapes the university handbook into a versioned JSON snapshot",
		Long: `handbook crawls the subject search of the university handbook, extracts
overview, assessment and contact details for one study period and writes
them to a single JSON snapshot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", defaultConfigFile, "json5 config file, missing is fine")

	root.AddCommand(newScrapeCmd(opts), newHistoryCmd(opts), newExportCmd(opts))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(opts *rootOptions, cmd *cobra.Command) (config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.configFile, cmd.Flags())
	if err != nil {
		return cfg, nil, err
	}
	log, err := logger.NewWithLevel(cfg.LogLevel)
	if err != nil {
		return cfg, nil, fmt.Errorf("log level: %w", err)
	}
	return cfg, log, nil
}

// openHistory returns nil when history is not configured.
func openHistory(cfg config.Config) (*history.Store, error) {
	if cfg.History.DSN == "" {
		return nil, nil
	}
	return history.Open(cfg.History.Driver, cfg.History.DSN)
}
