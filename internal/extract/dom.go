package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kizashi/subsidy-radar/internal/fingerprint"
)

// DOMParser builds a document tree with goquery. It tolerates markup the
// regex patterns miss, such as unquoted attributes.
type DOMParser struct{}

func parseDocument(doc string) *goquery.Document {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		// the html5 parser only fails on reader errors
		return nil
	}
	return d
}

// Links implements Parser.
func (DOMParser) Links(doc, baseURL string) []Link {
	d := parseDocument(doc)
	if d == nil {
		return nil
	}
	var out []Link
	d.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		canonical, err := fingerprint.Canonicalize(href, baseURL)
		if err != nil {
			return
		}
		text := strings.TrimSpace(s.Text())
		out = append(out, Link{URL: canonical, Text: truncateRunes(text, MaxLinkTextRunes)})
	})
	return out
}

// Title implements Parser.
func (DOMParser) Title(doc string) string {
	d := parseDocument(doc)
	if d == nil {
		return ""
	}
	for _, sel := range []string{"title", "h1"} {
		title := collapseSpace(d.Find(sel).First().Text())
		if title != "" {
			return truncateRunes(title, MaxTitleRunes)
		}
	}
	return ""
}

// BodyText implements Parser.
func (DOMParser) BodyText(doc string) string {
	d := parseDocument(doc)
	if d == nil {
		return ""
	}
	d.Find("script, style").Remove()
	body := d.Find("body")
	// pad element boundaries so adjacent blocks do not fuse into one token
	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml(" ")
		s.AfterHtml(" ")
	})
	return truncateRunes(collapseSpace(body.Text()), MaxBodyRunes)
}
