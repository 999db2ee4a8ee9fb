package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	ratingRe  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	reviewsRe = regexp.MustCompile(`\d(?:[\d\s\x{00a0}\x{2009}\x{202f}]*\d)?`)
)

// CleanPrice strips every non-digit character. The result may be empty.
func CleanPrice(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeRating reformats the first number in s with one fractional
// digit and "," as separator. Values outside 1..5 are reported absent.
func NormalizeRating(s string) (string, bool) {
	m := ratingRe.FindString(s)
	if m == "" {
		return "", false
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil || f < 1 || f > 5 {
		return "", false
	}
	return strings.Replace(strconv.FormatFloat(f, 'f', 1, 64), ".", ",", 1), true
}

// CleanReviews returns the first integer in s, allowing space-grouped
// thousands ("1 234 отзыва" is 1234).
func CleanReviews(s string) (string, bool) {
	m := reviewsRe.FindString(s)
	if m == "" {
		return "", false
	}
	d := strings.TrimLeft(CleanPrice(m), "0")
	if d == "" {
		d = "0"
	}
	return d, true
}

// AbsoluteURL resolves protocol-relative and root-relative links against
// origin (scheme and host, no trailing slash).
func AbsoluteURL(origin, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "/"):
		return origin + href
	default:
		return origin + "/" + href
	}
}

// StripQuery drops the query string and fragment, which on listing pages
// carry per-render tracking tokens.
func StripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
