package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/kizashi/subsidy-radar/internal/fingerprint"
)

var (
	anchorPattern = regexp.MustCompile(`(?is)<a\s+[^>]*href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	titlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1Pattern     = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	bodyPattern   = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	scriptPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	stylePattern  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// RegexParser is the lightweight pattern based Parser.
type RegexParser struct{}

// Links implements Parser.
func (RegexParser) Links(doc, baseURL string) []Link {
	matches := anchorPattern.FindAllStringSubmatch(doc, -1)
	out := make([]Link, 0, len(matches))
	for _, m := range matches {
		href := html.UnescapeString(strings.TrimSpace(m[1]))
		canonical, err := fingerprint.Canonicalize(href, baseURL)
		if err != nil {
			continue
		}
		text := strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(m[2], "")))
		out = append(out, Link{URL: canonical, Text: truncateRunes(text, MaxLinkTextRunes)})
	}
	return out
}

// Title implements Parser.
func (RegexParser) Title(doc string) string {
	for _, p := range []*regexp.Regexp{titlePattern, h1Pattern} {
		m := p.FindStringSubmatch(doc)
		if m == nil {
			continue
		}
		title := collapseSpace(html.UnescapeString(tagPattern.ReplaceAllString(m[1], "")))
		if title != "" {
			return truncateRunes(title, MaxTitleRunes)
		}
	}
	return ""
}

// BodyText implements Parser.
func (RegexParser) BodyText(doc string) string {
	cleaned := scriptPattern.ReplaceAllString(doc, "")
	cleaned = stylePattern.ReplaceAllString(cleaned, "")
	fragment := cleaned
	if m := bodyPattern.FindStringSubmatch(cleaned); m != nil {
		fragment = m[1]
	}
	text := collapseSpace(html.UnescapeString(tagPattern.ReplaceAllString(fragment, " ")))
	return truncateRunes(text, MaxBodyRunes)
}
