// Package cmd defines and implements the CLI commands for the crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/ingest-crawler/internal/config"
	"github.com/JakeFAU/ingest-crawler/internal/logging"
)

// runtimeKeyType is the context key for the loaded runtime.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime holds what every subcommand needs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

type rootFlags struct {
	configFile string
	plainLogs  bool
	verbose    bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "webcrawler",
		Short: "A polite breadth-first crawler that ingests pages into storage.",
		Long: `webcrawler walks one or more seed sites breadth-first, honoring robots.txt,
crawl delays and retry hints, and stores each page's raw HTML and clean text.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := buildLogger(cmd, cfg, flags)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolVar(&flags.plainLogs, "plain-logs", false, "write logs as plain lines to stderr")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "include debug logs with --plain-logs")

	cmd.AddCommand(newCrawlCmd(), newSitemapCmd())
	return cmd
}

func buildLogger(cmd *cobra.Command, cfg config.Config, flags *rootFlags) (*zap.Logger, error) {
	if flags.plainLogs {
		level := zapcore.InfoLevel
		if flags.verbose {
			level = zapcore.DebugLevel
		}
		errOut := cmd.ErrOrStderr()
		return logging.FuncSink(func(line string) { fmt.Fprintln(errOut, line) }, level), nil
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return logger, nil
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
