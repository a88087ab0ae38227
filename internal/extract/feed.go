package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/kizashi/subsidy-radar/internal/fingerprint"
)

// FeedLinks parses an RSS, Atom or JSON feed and returns its item links,
// resolved against baseURL and canonicalized.
func FeedLinks(body []byte, baseURL string) ([]Link, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	out := make([]Link, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		href := item.Link
		if href == "" && len(item.Links) > 0 {
			href = item.Links[0]
		}
		if href == "" {
			continue
		}
		canonical, err := fingerprint.Canonicalize(href, baseURL)
		if err != nil {
			continue
		}
		out = append(out, Link{URL: canonical, Text: truncateRunes(collapseSpace(item.Title), MaxLinkTextRunes)})
	}
	return out, nil
}

// IsHTML reports whether a payload is an HTML document, by content type or
// by a doctype in its first 100 bytes.
func IsHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := body
	if len(head) > 100 {
		head = head[:100]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<!doctype html"))
}

// IsFeed reports whether a content type names an XML or JSON feed.
func IsFeed(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, marker := range []string{"rss", "atom", "application/xml", "text/xml", "application/feed+json"} {
		if strings.Contains(ct, marker) {
			return true
		}
	}
	return false
}

// IsPDF reports whether a content type names a PDF payload.
func IsPDF(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "pdf")
}
