package extract

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// challengeTitles are lower-cased titles of block and challenge pages.
// A title must equal one of them; genuine search titles embed the query,
// so substring matches would flag ordinary results.
var challengeTitles = map[string]struct{}{
	"доступ ограничен":                 {},
	"access denied":                    {},
	"antibot challenge":                {},
	"captcha":                          {},
	"проверка браузера":                {},
	"are you a robot?":                 {},
	"just a moment...":                 {},
	"attention required! | cloudflare": {},
}

// banMarkers are lower-cased phrases shown in the body of challenge pages.
var banMarkers = []string{
	"доступ ограничен",
	"access denied",
	"подтвердите, что вы не робот",
	"проверка браузера",
	"antibot challenge",
	"are you a robot",
	"captcha",
	"cf-challenge",
}

// PageShape describes how a genuine page of one marketplace looks.
type PageShape struct {
	// Structure must match at least one node; nil skips the check.
	Structure cascadia.Matcher

	// Content matches result tiles. A page showing any is genuine whatever
	// its text says, since product names may contain marker phrases.
	Content cascadia.Matcher
}

// DetectBan reports whether page is a ban or challenge page: a challenge
// title, marker phrases in the visible text of a page without results, or
// the expected structure missing.
func DetectBan(page string, shape PageShape) (string, bool) {
	title := strings.Join(strings.Fields(strings.ToLower(extractTitle(page))), " ")
	if _, ok := challengeTitles[title]; ok {
		return "challenge title: " + title, true
	}

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "unparseable page", true
	}
	if shape.Content != nil && cascadia.Query(doc, shape.Content) != nil {
		return "", false
	}

	text := strings.ToLower(visibleText(doc))
	for _, m := range banMarkers {
		if strings.Contains(text, m) {
			return "challenge marker in body: " + m, true
		}
	}

	if shape.Structure != nil && cascadia.Query(doc, shape.Structure) == nil {
		return "expected page structure missing", true
	}
	return "", false
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}

// visibleText concatenates text nodes outside script, style and noscript.
func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// OzonPage is the shape of a genuine Ozon search page.
var OzonPage = PageShape{
	Structure: cascadia.MustCompile(OzonStructureSelector),
	Content:   ozonTiles,
}
