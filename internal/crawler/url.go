package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned when a string cannot be parsed as an absolute URL.
var ErrInvalidURL = errors.New("invalid url")

// hostAliases rewrites known-equivalent hostnames to their canonical host.
var hostAliases = map[string]string{
	"www.bccohp.ca": "oralhealthbc.ca",
	"bccohp.ca":     "oralhealthbc.ca",
}

var repeatedSlashes = regexp.MustCompile(`/{2,}`)

// NormalizeURL canonicalizes rawURL into the key used for deduplication.
// It trims whitespace, lowercases scheme and host, applies the host alias
// table, clears the fragment, collapses repeated slashes in the path, strips
// a single trailing slash (except for the root path), and drops default ports.
func NormalizeURL(rawURL string) (string, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", err
	}

	u.Host = canonicalHost(u)
	u.Fragment = ""
	u.RawFragment = ""

	escaped := repeatedSlashes.ReplaceAllString(u.EscapedPath(), "/")
	if len(escaped) > 1 && strings.HasSuffix(escaped, "/") {
		escaped = escaped[:len(escaped)-1]
	}
	if escaped == "" && u.Opaque == "" && isHTTPScheme(u.Scheme) {
		escaped = "/"
	}
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidURL, rawURL, err)
	}
	u.Path = unescaped
	u.RawPath = escaped

	return u.String(), nil
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, trimmed, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, trimmed)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if isHTTPScheme(u.Scheme) && u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidURL, trimmed)
	}
	return u, nil
}

// canonicalHost returns the lowercased, alias-mapped host with any default
// port removed.
func canonicalHost(u *url.URL) string {
	return hostPort(u, true)
}

func hostPort(u *url.URL, applyAliases bool) string {
	host := strings.ToLower(u.Hostname())
	if alias, ok := hostAliases[host]; ok && applyAliases {
		host = alias
	}
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// originOf returns scheme://host[:port] after host canonicalization.
func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + canonicalHost(u)
}

// literalOrigin is originOf without the host alias table.
func literalOrigin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + hostPort(u, false)
}

// OriginOf parses rawURL and returns its canonical origin.
func OriginOf(rawURL string) (string, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", err
	}
	return originOf(u), nil
}

func isHTTPScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}
