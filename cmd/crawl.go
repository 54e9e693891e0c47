package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-crawler/internal/app"
	"github.com/JakeFAU/ingest-crawler/internal/crawler"
)

type crawlFlags struct {
	maxPages    int
	maxDepth    int
	minDelay    time.Duration
	useSitemaps bool
	anyOrigin   bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl [seed...]",
		Short: "Crawl seed sites and ingest their pages",
		Long: `Crawls the configured seeds plus any given as arguments, breadth-first,
and stores every page with enough text. Prints a summary and the per-URL
error table when done.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, flags, args)
		},
	}
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "override crawler.max_pages")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 0, "override crawler.max_depth")
	cmd.Flags().DurationVar(&flags.minDelay, "min-delay", 0, "override crawler.min_delay")
	cmd.Flags().BoolVar(&flags.useSitemaps, "sitemaps", false, "add URLs from the seeds' sitemaps")
	cmd.Flags().BoolVar(&flags.anyOrigin, "any-origin", false, "follow links to other origins")
	return cmd
}

func runCrawl(cmd *cobra.Command, flags *crawlFlags, args []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg := rt.cfg
	if cmd.Flags().Changed("max-pages") {
		cfg.Crawler.MaxPages = flags.maxPages
	}
	if cmd.Flags().Changed("max-depth") {
		cfg.Crawler.MaxDepth = flags.maxDepth
	}
	if cmd.Flags().Changed("min-delay") {
		cfg.Crawler.MinDelay = flags.minDelay
	}
	if flags.useSitemaps {
		cfg.Crawler.UseSitemaps = true
	}
	if flags.anyOrigin {
		cfg.Crawler.SameOriginOnly = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := a.Close(shutdownCtx); cerr != nil {
			rt.logger.Warn("Failed to close app", zap.Error(cerr))
		}
	}()

	seeds, err := a.Seeds(ctx, args)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return errors.New("no seeds: pass URLs as arguments or set crawler.seeds")
	}

	res, err := a.Run(ctx, seeds)
	printSummary(cmd.OutOrStdout(), a, res)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printSummary(out io.Writer, a *app.App, res crawler.Result) {
	stats := a.Handler().Stats()
	fmt.Fprintf(out, "run %s: visited=%d discovered=%d stored=%d too_thin=%d errors=%d\n",
		a.RunID(), res.Visited, res.Discovered, stats.Stored, stats.TooThin, len(res.Errors))
	if len(res.Errors) == 0 {
		return
	}
	table := tablewriter.NewWriter(out)
	table.Header("URL", "Error")
	for _, e := range res.Errors {
		if err := table.Append([]string{e.URL, e.Error}); err != nil {
			a.Logger().Warn("error table row", zap.Error(err))
		}
	}
	if err := table.Render(); err != nil {
		a.Logger().Warn("error table render", zap.Error(err))
	}
}
