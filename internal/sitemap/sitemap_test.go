package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const urlsetTmpl = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">%s</urlset>`

const indexTmpl = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">%s</sitemapindex>`

func urlEntry(loc string) string {
	return fmt.Sprintf("<url><loc>\n  %s  \n</loc></url>", loc)
}

func sitemapEntry(loc string) string {
	return fmt.Sprintf("<sitemap><loc>%s</loc></sitemap>", loc)
}

func newSitemapServer(t *testing.T, routes func(base string) map[string]string) *httptest.Server {
	t.Helper()
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes(base)[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverAggregatesSitemaps(t *testing.T) {
	srv := newSitemapServer(t, func(base string) map[string]string {
		return map[string]string{
			"/robots.txt": "User-agent: *\nDisallow:\nSitemap: " + base + "/custom.xml\n",
			"/custom.xml": fmt.Sprintf(urlsetTmpl, urlEntry(base+"/a")+urlEntry(base+"/b")),
			"/sitemap.xml": fmt.Sprintf(indexTmpl,
				sitemapEntry(base+"/child.xml")+sitemapEntry(base+"/missing.xml")),
			"/child.xml": fmt.Sprintf(urlsetTmpl, urlEntry(base+"/b")+urlEntry(base+"/c")),
		}
	})

	d := NewDiscoverer(srv.Client(), "TestBot", zap.NewNop())
	urls, err := d.Discover(context.Background(), srv.URL+"/ignored/path")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}, urls)
}

func TestDiscoverFollowsIndexOneLevel(t *testing.T) {
	srv := newSitemapServer(t, func(base string) map[string]string {
		return map[string]string{
			"/sitemap.xml":      fmt.Sprintf(indexTmpl, sitemapEntry(base+"/nested-index.xml")),
			"/nested-index.xml": fmt.Sprintf(indexTmpl, sitemapEntry(base+"/deep.xml")),
			"/deep.xml":         fmt.Sprintf(urlsetTmpl, urlEntry(base+"/too-deep")),
		}
	})

	urls, err := NewDiscoverer(srv.Client(), "TestBot", nil).Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestDiscoverToleratesBrokenSitemaps(t *testing.T) {
	srv := newSitemapServer(t, func(string) map[string]string {
		return map[string]string{
			"/sitemap.xml":       "<urlset><url><loc>",
			"/sitemap_index.xml": "not xml at all",
		}
	})

	urls, err := NewDiscoverer(srv.Client(), "TestBot", nil, WithParallelism(1)).Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestDiscoverErrors(t *testing.T) {
	d := NewDiscoverer(nil, "TestBot", nil)
	_, err := d.Discover(context.Background(), "not-an-origin")
	require.Error(t, err)

	srv := newSitemapServer(t, func(string) map[string]string { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewDiscoverer(srv.Client(), "TestBot", nil).Discover(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTMLSitemap(t *testing.T) {
	srv := newSitemapServer(t, func(string) map[string]string {
		return map[string]string{
			"/en/sitemap.asp": `<ul>
<li><a href="/en/a">A</a></li>
<li><a href="/en/a">A again</a></li>
<li><a href="/en/logo.png">logo</a></li>
<li><a href="/fr/x">fr</a></li>
<li><a href="https://other.test/en/y">other</a></li>
<li><a href="b?x=1">relative</a></li>
</ul>`,
		}
	})

	d := NewDiscoverer(srv.Client(), "TestBot", nil)
	urls, err := d.HTMLSitemap(context.Background(), srv.URL+"/en/sitemap.asp", srv.URL+"/en/")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/en/a", srv.URL + "/en/b?x=1"}, urls)

	urls, err = d.HTMLSitemap(context.Background(), srv.URL+"/missing", srv.URL+"/")
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestLooksLikeHTML(t *testing.T) {
	cases := map[string]bool{
		"https://a.test/page":            true,
		"https://a.test/page.html":       true,
		"https://a.test/jsx-guide":       true,
		"https://a.test/logo.PNG":        false,
		"https://a.test/photo.jpeg?w=20": false,
		"https://a.test/app.js":          false,
		"https://a.test/brochure.pdf":    false,
	}
	for in, want := range cases {
		assert.Equal(t, want, LooksLikeHTML(in), in)
	}
}
