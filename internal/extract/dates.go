package extract

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// reiwaOffset converts a Reiwa year to the Gregorian year (Reiwa 1 = 2019).
const reiwaOffset = 2018

// Dates outside this range are treated as noise (phone numbers, codes).
const (
	minYear = 1900
	maxYear = 2200
)

// DateRange holds the dates found on a page. Start is the earliest date and
// End and Deadline are both the latest; the page is not parsed for separate
// application window semantics.
type DateRange struct {
	Start    *time.Time
	End      *time.Time
	Deadline *time.Time
}

// Found reports whether any date was extracted.
func (r DateRange) Found() bool {
	return r.Start != nil || r.End != nil || r.Deadline != nil
}

type datePattern struct {
	re   *regexp.Regexp
	era  bool
	name string
}

var datePatterns = []datePattern{
	{re: regexp.MustCompile(`令和\s*(\d+)\s*年\s*(\d+)\s*月\s*(\d+)\s*日?`), era: true, name: "reiwa"},
	{re: regexp.MustCompile(`\bR\.?\s*(\d{1,2})\.\s*(\d{1,2})\.\s*(\d{1,2})\b`), era: true, name: "reiwa_short"},
	{re: regexp.MustCompile(`(\d{4})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日?`), name: "kanji"},
	{re: regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})`), name: "slash"},
	{re: regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`), name: "dash"},
}

// ExtractDates scans text with every date pattern family and returns the
// earliest match as Start and the latest as End and Deadline. Full-width
// digits are folded to ASCII first. Impossible calendar dates are dropped.
func ExtractDates(text string) DateRange {
	text = norm.NFKC.String(text)
	var found []time.Time
	for _, p := range datePatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			d, ok := toDate(m[1], m[2], m[3], p.era)
			if ok {
				found = append(found, d)
			}
		}
	}
	if len(found) == 0 {
		return DateRange{}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Before(found[j]) })
	start := found[0]
	end := found[len(found)-1]
	deadline := end
	return DateRange{Start: &start, End: &end, Deadline: &deadline}
}

func toDate(ys, ms, ds string, era bool) (time.Time, bool) {
	y, err1 := strconv.Atoi(ys)
	m, err2 := strconv.Atoi(ms)
	d, err3 := strconv.Atoi(ds)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if era {
		if y < 1 {
			return time.Time{}, false
		}
		y += reiwaOffset
	}
	if y < minYear || y > maxYear || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(m) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
