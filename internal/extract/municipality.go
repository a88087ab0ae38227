package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var municipalityDelimiters = regexp.MustCompile(`[` + spaceClass + `、。]+`)

var municipalitySuffixes = []string{"市", "町", "村", "区"}

// ExtractMunicipality returns the first token that ends in 市, 町, 村 or 区 and
// is followed by whitespace, 、, 。 or the end of text. A token that starts
// with the full prefecture name and is at most two runes longer than it names
// a joint prefecture body (大阪府市, 東京都区) rather than a municipality and
// is skipped. It returns "" when nothing matches.
func ExtractMunicipality(text, prefName string) string {
	limit := utf8.RuneCountInString(prefName) + 2
	for _, token := range municipalityDelimiters.Split(text, -1) {
		if utf8.RuneCountInString(token) < 2 || !hasMunicipalitySuffix(token) {
			continue
		}
		if prefName != "" && strings.HasPrefix(token, prefName) && utf8.RuneCountInString(token) <= limit {
			continue
		}
		return truncateRunes(token, MaxMunicipalityRunes)
	}
	return ""
}

func hasMunicipalitySuffix(token string) bool {
	for _, s := range municipalitySuffixes {
		if strings.HasSuffix(token, s) {
			return true
		}
	}
	return false
}
