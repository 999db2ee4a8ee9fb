package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/marketfeed/models"
)

// OzonOrigin is prefixed to root-relative Ozon links.
const OzonOrigin = "https://ozon.ru"

// OzonTileSelector matches one rendered product card.
const OzonTileSelector = "div[class*='tile-root']"

// OzonLoadMoreSelector matches the "show more" control under the grid.
const OzonLoadMoreSelector = "[data-widget='paginator'] button"

// OzonStructureSelector matches the widget markup every genuine Ozon page
// carries; its absence indicates a challenge or block page.
const OzonStructureSelector = "[data-widget]"

var (
	ozonTiles        = cascadia.MustCompile(OzonTileSelector)
	ozonResultWidget = cascadia.MustCompile("div[data-widget='searchResultsV2']")
	ozonProductLink  = cascadia.MustCompile("a[href*='/product/']")
	ozonNameSpan     = cascadia.MustCompile("span[class*='tsBody']")
	ozonPriceCurrent = cascadia.MustCompile("span[data-test-id='price-current']")
	ozonPriceSpan    = cascadia.MustCompile("span[class*='price']")
	ozonRatingSpan   = cascadia.MustCompile("span[class*='rating']")
	ozonSpan         = cascadia.MustCompile("span")
	ozonImage        = cascadia.MustCompile("img[src]")

	rubleRe      = regexp.MustCompile(`(\d[\d\s\x{2009}\x{00a0}\x{202f}]*\d|\d)\s*₽`)
	leadFloatRe  = regexp.MustCompile(`^\s*\d+[.,]\d+`)
	ozonName     = []Strategy[*goquery.Selection]{ozonNameFromSpan, ozonNameFromLink}
	ozonPrice    = []Strategy[*goquery.Selection]{ozonPriceFromCurrent, ozonPriceFromRubleSpan, ozonPriceFromCardText}
	ozonRating   = []Strategy[*goquery.Selection]{ozonRatingFromClass, ozonRatingFromAnySpan}
	ozonReviews  = []Strategy[*goquery.Selection]{ozonReviewsFromSpan}
	ozonImageURL = []Strategy[*goquery.Selection]{ozonImageFromImg}
)

// Ozon extracts items from a rendered search results page.
func Ozon(html string, seen Seen, left int) []models.ProductItem {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	cards := doc.FindMatcher(ozonTiles)
	if cards.Length() == 0 {
		cards = doc.FindMatcher(ozonResultWidget)
	}
	entries := make([]*goquery.Selection, 0, cards.Length())
	cards.Each(func(_ int, s *goquery.Selection) {
		entries = append(entries, s)
	})
	return harvest(models.MarketplaceOzon, entries, seen, left, buildOzon)
}

func buildOzon(card *goquery.Selection) (models.ProductItem, bool) {
	link := card.FindMatcher(ozonProductLink).First()
	href, _ := link.Attr("href")
	url := StripQuery(AbsoluteURL(OzonOrigin, href))
	if url == "" {
		return models.ProductItem{}, false
	}
	name, ok := First(card, ozonName...)
	if !ok {
		return models.ProductItem{}, false
	}
	price, ok := First(card, ozonPrice...)
	if !ok {
		return models.ProductItem{}, false
	}
	rating, _ := First(card, ozonRating...)
	reviews, _ := First(card, ozonReviews...)
	img, _ := First(card, ozonImageURL...)

	return models.ProductItem{
		Marketplace: models.MarketplaceOzon,
		Name:        name,
		URL:         url,
		Price:       price,
		Rating:      models.StringPtr(rating),
		Reviews:     models.StringPtr(reviews),
		ImgURL:      models.StringPtr(img),
	}, true
}

func ozonNameFromSpan(card *goquery.Selection) (string, bool) {
	v := strings.TrimSpace(card.FindMatcher(ozonNameSpan).First().Text())
	return v, v != ""
}

func ozonNameFromLink(card *goquery.Selection) (string, bool) {
	v := strings.Join(strings.Fields(card.FindMatcher(ozonProductLink).First().Text()), " ")
	return v, v != ""
}

func ozonPriceFromCurrent(card *goquery.Selection) (string, bool) {
	v := CleanPrice(card.FindMatcher(ozonPriceCurrent).First().Text())
	return v, v != ""
}

func ozonPriceFromRubleSpan(card *goquery.Selection) (string, bool) {
	return rublePrice(card.FindMatcher(ozonPriceSpan).First().Text())
}

func ozonPriceFromCardText(card *goquery.Selection) (string, bool) {
	return rublePrice(card.Text())
}

func rublePrice(text string) (string, bool) {
	m := rubleRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := CleanPrice(m[1])
	return v, v != ""
}

func ozonRatingFromClass(card *goquery.Selection) (string, bool) {
	span := card.FindMatcher(ozonRatingSpan).First()
	if span.Length() == 0 {
		return "", false
	}
	return NormalizeRating(span.Text())
}

func ozonRatingFromAnySpan(card *goquery.Selection) (string, bool) {
	var rating string
	card.FindMatcher(ozonSpan).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := leadFloatRe.FindString(s.Text())
		if m == "" {
			return true
		}
		if v, ok := NormalizeRating(m); ok {
			rating = v
			return false
		}
		return true
	})
	return rating, rating != ""
}

func ozonReviewsFromSpan(card *goquery.Selection) (string, bool) {
	var reviews string
	card.FindMatcher(ozonSpan).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		txt := strings.ToLower(s.Text())
		if !strings.Contains(txt, "отзыв") {
			return true
		}
		if v, ok := CleanReviews(txt); ok {
			reviews = v
			return false
		}
		return true
	})
	return reviews, reviews != ""
}

func ozonImageFromImg(card *goquery.Selection) (string, bool) {
	src, _ := card.FindMatcher(ozonImage).First().Attr("src")
	v := AbsoluteURL(OzonOrigin, src)
	return v, v != ""
}
