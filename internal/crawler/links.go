package crawler

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Link extraction is a tolerant pattern match over anchor tags, not an HTML
// parse. Malformed markup that the patterns miss is simply not followed.
var (
	anchorHref = regexp.MustCompile(
		`(?i)<a\b[^>]*?\bhref\s*=\s*(?:"([^"]+)"|'([^']+)'|([^\s"'=<>` + "`" + `]+))[^>]*>`,
	)
	baseHref = regexp.MustCompile(
		`(?i)<base\b[^>]*\bhref\s*=\s*(?:"([^"]+)"|'([^']+)')[^>]*>`,
	)
	htmlEntity = regexp.MustCompile(`(?i)&(?:(amp|lt|gt|quot)|#(\d+)|#x([0-9a-f]+));`)
)

var skippedSchemes = []string{"mailto:", "javascript:", "tel:"}

// ExtractLinks returns the absolute URLs referenced by anchor tags in html, in
// first-occurrence order and deduplicated by exact string. Relative references
// resolve against the document's <base href> when present, else baseURL.
// Unresolvable references are dropped silently.
func ExtractLinks(html, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	if docBase, ok := FindBaseHref(html); ok {
		if resolved, parseErr := base.Parse(strings.TrimSpace(docBase)); parseErr == nil {
			base = resolved
		}
	}

	var links []string
	seen := make(map[string]struct{})
	for _, m := range anchorHref.FindAllStringSubmatch(html, -1) {
		raw := strings.TrimSpace(decodeHTMLAttr(firstNonEmpty(m[1], m[2], m[3])))
		if raw == "" || hasSkippedScheme(raw) {
			continue
		}
		ref, parseErr := url.Parse(raw)
		if parseErr != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}
	return links
}

// FindBaseHref returns the href of the first quoted <base href> element.
func FindBaseHref(html string) (string, bool) {
	m := baseHref.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	href := decodeHTMLAttr(firstNonEmpty(m[1], m[2]))
	return href, href != ""
}

// decodeHTMLAttr decodes the named entities amp, lt, gt, quot and numeric
// character references in a single pass.
func decodeHTMLAttr(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return htmlEntity.ReplaceAllStringFunc(s, func(entity string) string {
		m := htmlEntity.FindStringSubmatch(entity)
		switch {
		case m[1] != "":
			switch strings.ToLower(m[1]) {
			case "amp":
				return "&"
			case "lt":
				return "<"
			case "gt":
				return ">"
			default:
				return `"`
			}
		case m[2] != "":
			return decodeCodePoint(entity, m[2], 10)
		default:
			return decodeCodePoint(entity, m[3], 16)
		}
	})
}

func decodeCodePoint(entity, digits string, base int) string {
	n, err := strconv.ParseInt(digits, base, 32)
	if err != nil || !utf8.ValidRune(rune(n)) {
		return entity
	}
	return string(rune(n))
}

func hasSkippedScheme(raw string) bool {
	lower := strings.ToLower(raw)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
