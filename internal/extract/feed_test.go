package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>新着情報</title>
<link>https://city.example.jp/</link>
<item><title>住宅耐震化補助のお知らせ</title><link>/news/100.html#a</link></item>
<item><title>  空き家
 改修 </title><link>https://city.example.jp/news/101.html?b=2&amp;a=1</link></item>
<item><title>no link</title></item>
</channel></rss>`

func TestFeedLinks(t *testing.T) {
	t.Parallel()

	links, err := FeedLinks([]byte(sampleRSS), "https://city.example.jp/rss.xml")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "https://city.example.jp/news/100.html", links[0].URL)
	assert.Equal(t, "住宅耐震化補助のお知らせ", links[0].Text)
	assert.Equal(t, "https://city.example.jp/news/101.html?a=1&b=2", links[1].URL)
	assert.Equal(t, "空き家 改修", links[1].Text)
}

func TestFeedLinksRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := FeedLinks([]byte("not a feed"), "https://city.example.jp/")
	require.Error(t, err)
}

func TestContentSniffing(t *testing.T) {
	t.Parallel()

	assert.True(t, IsHTML("text/html; charset=utf-8", nil))
	assert.True(t, IsHTML("application/octet-stream", []byte("\n<!DOCTYPE HTML><html>")))
	assert.False(t, IsHTML("application/pdf", []byte("%PDF-1.7")))
	assert.True(t, IsFeed("application/rss+xml"))
	assert.True(t, IsFeed("text/xml; charset=utf-8"))
	assert.False(t, IsFeed("text/html"))
	assert.True(t, IsPDF("application/pdf"))
	assert.False(t, IsPDF("text/html"))
}
