package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTML(t *testing.T) {
	page := `<html><head><title> Clinic
  Hours </title><style>.x{color:red}</style></head>
<body>
<nav>Menu</nav>
<h1>Welcome</h1>
<p>Open   Monday<br>to <b>Friday</b></p>
<script>var a = 1;</script>
<footer>Footer text</footer>
<noscript>Enable JavaScript</noscript>
<ul><li>One</li><li>Two</li></ul>
</body></html>`

	content, err := FromHTML([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Clinic Hours", content.Title)
	assert.Equal(t, "Welcome\nOpen Monday\nto Friday\nOne\nTwo", content.Text)
}

func TestFromHTMLPrefersOpenGraphTitle(t *testing.T) {
	page := `<html><head><meta property="og:title" content=" Brushing Guide "><title>Site | Brushing</title></head><body><p>x</p></body></html>`
	content, err := FromHTML([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Brushing Guide", content.Title)
}

func TestFromHTMLFragment(t *testing.T) {
	content, err := FromHTML([]byte(`just   some <em>text</em>`))
	require.NoError(t, err)
	assert.Empty(t, content.Title)
	assert.Equal(t, "just some text", content.Text)
}
