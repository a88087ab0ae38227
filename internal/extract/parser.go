// Package extract turns fetched pages into structured subsidy facts: links,
// title, body text, dates, municipality, status and parse confidence.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Caps applied to extracted text, in runes.
const (
	MaxTitleRunes        = 500
	MaxLinkTextRunes     = 500
	MaxBodyRunes         = 5000
	MaxSummaryRunes      = 400
	MaxMunicipalityRunes = 100
	MinBodyRunes         = 50
)

// UntitledPlaceholder is stored when a page has no usable title.
const UntitledPlaceholder = "(無題)"

// PDFTitlePlaceholder is stored for PDF payloads, which are never parsed.
const PDFTitlePlaceholder = "(PDF)"

// Link is an anchor found on a page, resolved to a canonical absolute URL.
type Link struct {
	URL  string
	Text string
}

// Parser extracts structure from an HTML document.
type Parser interface {
	// Links returns every anchor whose href resolves to an http(s) URL.
	Links(html, baseURL string) []Link
	// Title returns the <title> text, falling back to the first <h1>.
	// It returns "" when neither yields text.
	Title(html string) string
	// BodyText returns whitespace-collapsed visible text of <body>.
	BodyText(html string) string
}

// Parser kinds accepted by NewParser.
const (
	KindRegex = "regex"
	KindDOM   = "dom"
)

// NewParser returns the parser registered under kind.
func NewParser(kind string) (Parser, error) {
	switch kind {
	case "", KindRegex:
		return RegexParser{}, nil
	case KindDOM:
		return DOMParser{}, nil
	default:
		return nil, fmt.Errorf("unknown parser kind %q", kind)
	}
}

// spaceClass matches the characters treated as whitespace in Japanese pages,
// including ideographic and no-break spaces.
const spaceClass = `\s\x{00a0}\x{1680}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}\x{feff}`

var spaceRun = regexp.MustCompile(`[` + spaceClass + `]+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Summary returns the stored summary for a body text.
func Summary(body string) string {
	return strings.TrimSpace(truncateRunes(body, MaxSummaryRunes))
}
