package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-crawler/internal/sitemap"
)

// newSitemapCmd creates the 'sitemap' subcommand.
func newSitemapCmd() *cobra.Command {
	var htmlPrefix string
	cmd := &cobra.Command{
		Use:   "sitemap <origin|page>...",
		Short: "Print URLs advertised by sitemaps",
		Long: `Prints every page URL found in the XML sitemaps of each origin. With
--html-prefix the arguments are treated as HTML sitemap pages instead and only
links under the prefix are printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			d := sitemap.NewDiscoverer(
				&http.Client{Timeout: rt.cfg.HTTP.Timeout},
				rt.cfg.Crawler.UserAgent,
				rt.logger.Named("sitemap"),
			)
			out := cmd.OutOrStdout()
			for _, arg := range args {
				var urls []string
				if htmlPrefix != "" {
					urls, err = d.HTMLSitemap(cmd.Context(), arg, htmlPrefix)
				} else {
					urls, err = d.Discover(cmd.Context(), arg)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				rt.logger.Info("sitemap urls", zap.String("source", arg), zap.Int("count", len(urls)))
				for _, u := range urls {
					fmt.Fprintln(out, u)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&htmlPrefix, "html-prefix", "", "scrape HTML sitemap pages, keeping links under this prefix")
	return cmd
}
