package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		href string
		base string
		want string
	}{
		{name: "relative path", href: "detail/1", base: "https://city.example.jp/list/", want: "https://city.example.jp/list/detail/1"},
		{name: "absolute path", href: "/a?b=2&a=1#top", base: "https://city.example.jp/x", want: "https://city.example.jp/a?a=1&b=2"},
		{name: "host case and default port", href: "HTTPS://City.Example.JP:443/p", base: "https://city.example.jp/", want: "https://city.example.jp/p"},
		{name: "userinfo dropped", href: "https://u:p@city.example.jp/p", base: "https://city.example.jp/", want: "https://city.example.jp/p"},
		{name: "bare origin", href: "https://city.example.jp", base: "https://city.example.jp/", want: "https://city.example.jp/"},
		{name: "repeated keys sort by value", href: "/s?z=1&k=b&k=a", base: "https://x.jp/", want: "https://x.jp/s?k=a&k=b&z=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(tt.href, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeRejectsNonHTTP(t *testing.T) {
	t.Parallel()

	for _, href := range []string{"mailto:info@city.example.jp", "javascript:void(0)", "tel:0120000000"} {
		_, err := Canonicalize(href, "https://city.example.jp/")
		assert.ErrorIs(t, err, ErrUnsupportedScheme, href)
	}
}

func TestKeyIsStableAcrossEquivalentURLs(t *testing.T) {
	t.Parallel()

	base := "https://city.example.jp/news/"
	variants := []string{
		"https://city.example.jp/subsidy?id=5&type=a",
		"https://city.example.jp/subsidy/?type=a&id=5",
		"https://city.example.jp/subsidy?type=a&id=5#apply",
		"/subsidy/?id=5&type=a#x",
		"HTTPS://CITY.EXAMPLE.JP/subsidy?id=5&type=a",
	}
	repeated := []string{
		"https://city.example.jp/list?id=2&id=1",
		"https://city.example.jp/list?id=1&id=2",
		"/list?id=2&id=1#top",
	}
	var keys []string
	for _, v := range variants {
		canonical, err := Canonicalize(v, base)
		require.NoError(t, err)
		keys = append(keys, Key(canonical))
	}
	for _, k := range keys {
		assert.Equal(t, keys[0], k)
		assert.Len(t, k, KeyLength)
	}

	var repeatedKeys []string
	for _, v := range repeated {
		canonical, err := Canonicalize(v, base)
		require.NoError(t, err)
		assert.Equal(t, "https://city.example.jp/list?id=1&id=2", canonical)
		repeatedKeys = append(repeatedKeys, Key(canonical))
	}
	for _, k := range repeatedKeys {
		assert.Equal(t, repeatedKeys[0], k)
	}
	assert.NotEqual(t, keys[0], repeatedKeys[0])
}

func TestKeyMatchesDigestOfLowercasedURL(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("https://city.example.jp/a"))
	want := hex.EncodeToString(sum[:])[:KeyLength]
	assert.Equal(t, want, Key("https://City.example.jp/A/"))

	root := sha256.Sum256([]byte("https://city.example.jp"))
	assert.Equal(t, hex.EncodeToString(root[:])[:KeyLength], Key("https://city.example.jp/"))
}

func TestOrigin(t *testing.T) {
	t.Parallel()

	got, err := Origin("https://City.example.jp:443/a/b?c=1")
	require.NoError(t, err)
	assert.Equal(t, "https://city.example.jp", got)

	k, err := Of("https://city.example.jp/a/#frag")
	require.NoError(t, err)
	assert.Equal(t, Key("https://city.example.jp/a"), k)
}
