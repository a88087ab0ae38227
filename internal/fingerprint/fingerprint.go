// Package fingerprint canonicalizes discovered URLs and derives the stable
// short hash used as the discovery dedup key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// KeyLength is the number of hex characters kept from the digest.
const KeyLength = 32

// ErrUnsupportedScheme is returned for links that are not http(s).
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Canonicalize resolves href against base, drops the fragment and userinfo,
// lowercases scheme and host, removes default ports and sorts query
// parameters by key, then value.
func Canonicalize(href, base string) (string, error) {
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	u := baseURL.ResolveReference(ref)

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Host == "" {
		return "", fmt.Errorf("canonicalize %q: missing host", href)
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			slices.Sort(q[k])
		}
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false
	return u.String(), nil
}

// Origin returns scheme://host of a canonical URL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Host)
	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" {
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host, nil
}

// Key hashes a canonical URL. The URL is lowercased and one trailing slash
// is removed from its path before hashing, so /a and /a/ share a key.
func Key(canonicalURL string) string {
	s := strings.ToLower(canonicalURL)
	path, query, hasQuery := strings.Cut(s, "?")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	if hasQuery {
		s = path + "?" + query
	} else {
		s = path
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:KeyLength]
}

// Of canonicalizes rawURL against itself and returns its key.
func Of(rawURL string) (string, error) {
	canonical, err := Canonicalize(rawURL, rawURL)
	if err != nil {
		return "", err
	}
	return Key(canonical), nil
}
