package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-crawler/internal/config"
	"github.com/JakeFAU/ingest-crawler/internal/ingest"
)

func article(title string) string {
	return fmt.Sprintf("<html><head><title>%s</title></head><body><p>%s</p></body></html>",
		title, strings.TrimSpace(strings.Repeat("dental ", 100)))
}

// newSite serves a small site whose sitemap lists /extra plus extraLocs.
// "{base}" in an extra loc is replaced with the server URL.
func newSite(t *testing.T, extraLocs ...string) *httptest.Server {
	t.Helper()
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<p>index</p><a href="/article">article</a>`)
		case "/article":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, article("Article"))
		case "/extra":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, article("Extra"))
		case "/sitemap.xml":
			locs := fmt.Sprintf("<url><loc>%s/extra</loc></url>", base)
			for _, loc := range extraLocs {
				locs += "<url><loc>" + strings.ReplaceAll(loc, "{base}", base) + "</loc></url>"
			}
			fmt.Fprintf(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">%s</urlset>`, locs)
		default:
			http.NotFound(w, r)
		}
	}))
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Crawler.MaxDepth = 1
	return cfg
}

func TestBuildAndRunWithSitemaps(t *testing.T) {
	srv := newSite(t)
	cfg := memoryConfig(t)
	cfg.Crawler.Seeds = []string{srv.URL + "/"}
	cfg.Crawler.UseSitemaps = true

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })
	assert.Len(t, a.RunID(), 36)

	seeds, err := a.Seeds(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/", srv.URL + "/extra"}, seeds)

	res, err := a.Run(context.Background(), seeds)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Visited)
	assert.Empty(t, res.Errors)
	assert.Equal(t, ingest.Stats{Stored: 2, TooThin: 1}, a.Handler().Stats())

	rec := httptest.NewRecorder()
	a.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crawler_pages_total")
	assert.Contains(t, rec.Body.String(), "crawler_handler_duration_seconds")
}

func TestSeedsFiltersSitemapURLs(t *testing.T) {
	srv := newSite(t, "/relative/page", "{base}/brochure.pdf", "https://other.example/x", "{base}/extra")
	cfg := memoryConfig(t)
	cfg.Crawler.Seeds = []string{srv.URL + "/"}
	cfg.Crawler.UseSitemaps = true

	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	seeds, err := a.Seeds(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/", srv.URL + "/extra"}, seeds)

	res, err := a.Run(context.Background(), seeds)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
}

func TestSeedsWithoutSitemaps(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Crawler.Seeds = []string{"https://a.test/"}

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	seeds, err := a.Seeds(context.Background(), []string{"https://b.test/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test/", "https://b.test/"}, seeds)
}

func TestBuildLocalStorage(t *testing.T) {
	srv := newSite(t)
	cfg := memoryConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.BaseDir = t.TempDir()
	cfg.Metrics.Addr = "127.0.0.1:0"

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)

	_, err = a.Run(context.Background(), []string{srv.URL + "/article"})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	var files []string
	require.NoError(t, filepath.WalkDir(cfg.Storage.BaseDir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, p)
		}
		return err
	}))
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0], ".html"))
}

func TestBuildFailsOnUnusableStorage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := memoryConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.BaseDir = file

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local blob store init failed")
}

func TestBuildRejectsBadPatterns(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Crawler.ExcludePatterns = []string{"("}

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}
