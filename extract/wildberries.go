package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/use-agent/marketfeed/models"
)

// wbEntry is one element of the search response "products" array.
type wbEntry []byte

var (
	wbName = []Strategy[wbEntry]{
		wbString("name"),
		wbString("imt_name"),
	}
	wbPrice = []Strategy[wbEntry]{
		wbKopecks("sizes", "[0]", "price", "product"),
		wbKopecks("salePriceU"),
		wbKopecks("priceU"),
	}
	wbRating = []Strategy[wbEntry]{
		wbRatingAt("reviewRating"),
		wbRatingAt("nmReviewRating"),
		wbRatingAt("rating"),
	}
	wbReviews = []Strategy[wbEntry]{
		wbCount("feedbacks"),
		wbCount("nmFeedbacks"),
	}
)

// Wildberries extracts items from one page of the JSON search response.
func Wildberries(raw []byte, seen Seen, left int) []models.ProductItem {
	entries := wbProducts(raw)
	return harvest(models.MarketplaceWildberries, entries, seen, left, buildWildberries)
}

// wbProducts returns the raw products array, trying the current and the
// legacy response layouts.
func wbProducts(raw []byte) []wbEntry {
	for _, path := range [][]string{{"data", "products"}, {"products"}} {
		var entries []wbEntry
		_, err := jsonparser.ArrayEach(raw, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
			if dataType == jsonparser.Object {
				entries = append(entries, wbEntry(value))
			}
		}, path...)
		if err == nil {
			return entries
		}
	}
	return nil
}

func buildWildberries(e wbEntry) (models.ProductItem, bool) {
	id, ok := wbID(e)
	if !ok {
		return models.ProductItem{}, false
	}
	name, ok := First(e, wbName...)
	if !ok {
		return models.ProductItem{}, false
	}
	if brand, err := jsonparser.GetString(e, "brand"); err == nil && brand != "" && !strings.HasPrefix(name, brand) {
		name = brand + " / " + name
	}
	price, ok := First(e, wbPrice...)
	if !ok {
		return models.ProductItem{}, false
	}
	rating, _ := First(e, wbRating...)
	reviews, _ := First(e, wbReviews...)

	return models.ProductItem{
		Marketplace: models.MarketplaceWildberries,
		Name:        strings.TrimSpace(name),
		URL:         fmt.Sprintf("https://www.wildberries.ru/catalog/%d/detail.aspx", id),
		Price:       price,
		Rating:      models.StringPtr(rating),
		Reviews:     models.StringPtr(reviews),
		ImgURL:      models.StringPtr(WildberriesImage(id)),
	}, true
}

func wbID(e wbEntry) (int64, bool) {
	for _, key := range []string{"id", "nmId"} {
		if id, err := jsonparser.GetInt(e, key); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func wbString(path ...string) Strategy[wbEntry] {
	return func(e wbEntry) (string, bool) {
		v, err := jsonparser.GetString(e, path...)
		v = strings.TrimSpace(v)
		return v, err == nil && v != ""
	}
}

// wbKopecks reads an integer amount in kopecks and returns whole roubles.
func wbKopecks(path ...string) Strategy[wbEntry] {
	return func(e wbEntry) (string, bool) {
		v, err := jsonparser.GetInt(e, path...)
		if err != nil || v < 100 {
			return "", false
		}
		return strconv.FormatInt(v/100, 10), true
	}
}

func wbRatingAt(path ...string) Strategy[wbEntry] {
	return func(e wbEntry) (string, bool) {
		v, err := jsonparser.GetFloat(e, path...)
		if err != nil {
			return "", false
		}
		return NormalizeRating(strconv.FormatFloat(v, 'f', -1, 64))
	}
}

func wbCount(path ...string) Strategy[wbEntry] {
	return func(e wbEntry) (string, bool) {
		v, err := jsonparser.GetInt(e, path...)
		if err != nil || v < 0 {
			return "", false
		}
		return strconv.FormatInt(v, 10), true
	}
}

// wbBaskets maps the upper bound of each volume range to its CDN host.
var wbBaskets = []struct {
	maxVol int64
	host   int
}{
	{143, 1}, {287, 2}, {431, 3}, {719, 4}, {1007, 5}, {1061, 6}, {1115, 7},
	{1169, 8}, {1313, 9}, {1601, 10}, {1655, 11}, {1919, 12}, {2045, 13},
	{2189, 14}, {2405, 15}, {2621, 16}, {2837, 17}, {3053, 18}, {3269, 19},
	{3485, 20}, {3701, 21}, {3917, 22}, {4133, 23}, {4349, 24}, {4565, 25},
}

// WildberriesImage returns the first product photo URL for an article id.
func WildberriesImage(id int64) string {
	if id <= 0 {
		return ""
	}
	vol, part := id/100000, id/1000
	host := 26
	for _, b := range wbBaskets {
		if vol <= b.maxVol {
			host = b.host
			break
		}
	}
	return fmt.Sprintf("https://basket-%02d.wbbasket.ru/vol%d/part%d/%d/images/c516x688/1.webp", host, vol, part, id)
}
