package extract

import (
	"strings"
	"testing"
)

const wbPage = `{
  "metadata": {"name": "кроссовки"},
  "data": {"products": [
    {"id": 123456789, "brand": "Nike", "name": "Кроссовки Air", "reviewRating": 4.8, "feedbacks": 1532,
     "sizes": [{"price": {"basic": 1299000, "product": 899000}}]},
    {"id": 22222222, "name": "Без цены"},
    {"id": 33333333, "name": "Legacy", "salePriceU": 150050, "nmReviewRating": 0, "rating": 5, "nmFeedbacks": 0},
    {"name": "Без артикула", "salePriceU": 100000},
    {"id": 123456789, "brand": "Nike", "name": "Кроссовки Air", "salePriceU": 899000},
    {"id": 44444444, "brand": "Puma", "name": "Puma Suede", "priceU": 499900, "reviewRating": 9.5},
    "garbage"
  ]}
}`

func TestWildberriesExtraction(t *testing.T) {
	seen := Seen{}
	items := Wildberries([]byte(wbPage), seen, 10)
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3: %+v", len(items), items)
	}

	first := items[0]
	if first.URL != "https://www.wildberries.ru/catalog/123456789/detail.aspx" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.Name != "Nike / Кроссовки Air" {
		t.Errorf("Name = %q", first.Name)
	}
	if first.Price != "8990" {
		t.Errorf("Price = %q, want sizes[0].price.product in roubles", first.Price)
	}
	if first.Rating == nil || *first.Rating != "4,8" {
		t.Errorf("Rating = %v, want 4,8", first.Rating)
	}
	if first.Reviews == nil || *first.Reviews != "1532" {
		t.Errorf("Reviews = %v", first.Reviews)
	}
	if first.ImgURL == nil || !strings.HasPrefix(*first.ImgURL, "https://basket-") {
		t.Errorf("ImgURL = %v", first.ImgURL)
	}

	legacy := items[1]
	if legacy.Price != "1500" {
		t.Errorf("legacy Price = %q, want salePriceU fallback", legacy.Price)
	}
	if legacy.Rating == nil || *legacy.Rating != "5,0" {
		t.Errorf("legacy Rating = %v, want rating fallback after implausible nmReviewRating", legacy.Rating)
	}
	if legacy.Reviews == nil || *legacy.Reviews != "0" {
		t.Errorf("legacy Reviews = %v", legacy.Reviews)
	}

	puma := items[2]
	if puma.Name != "Puma Suede" {
		t.Errorf("brand already in name should not be repeated, got %q", puma.Name)
	}
	if puma.Rating != nil {
		t.Errorf("out-of-range rating should be absent, got %q", *puma.Rating)
	}
}

func TestWildberriesRespectsSeenAndLeft(t *testing.T) {
	seen := Seen{"https://www.wildberries.ru/catalog/123456789/detail.aspx": {}}
	items := Wildberries([]byte(wbPage), seen, 1)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].URL != "https://www.wildberries.ru/catalog/33333333/detail.aspx" {
		t.Errorf("URL = %q, want first unseen item", items[0].URL)
	}
	if !seen.Has(items[0].URL) {
		t.Error("emitted URL should be added to seen")
	}
	if got := Wildberries([]byte(wbPage), seen, 0); len(got) != 0 {
		t.Errorf("left=0 should emit nothing, got %d", len(got))
	}
}

func TestWildberriesLayouts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"top-level products", `{"products":[{"id":1,"name":"a","salePriceU":1000}]}`, 1},
		{"empty", `{"data":{"products":[]}}`, 0},
		{"no products key", `{"data":{}}`, 0},
		{"not json", `<html>blocked</html>`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Wildberries([]byte(tt.raw), Seen{}, 10); len(got) != tt.want {
				t.Errorf("got %d items, want %d", len(got), tt.want)
			}
		})
	}
}

func TestWildberriesImage(t *testing.T) {
	tests := []struct {
		id   int64
		want string
	}{
		{14300000, "https://basket-01.wbbasket.ru/vol143/part14300/14300000/images/c516x688/1.webp"},
		{123456789, "https://basket-09.wbbasket.ru/vol1234/part123456/123456789/images/c516x688/1.webp"},
		{500000000, "https://basket-26.wbbasket.ru/vol5000/part500000/500000000/images/c516x688/1.webp"},
		{0, ""},
	}
	for _, tt := range tests {
		if got := WildberriesImage(tt.id); got != tt.want {
			t.Errorf("WildberriesImage(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
