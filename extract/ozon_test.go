package extract

import (
	"testing"
)

const ozonPage = `<html><head><title>Купить ноутбук - OZON</title></head><body>
<div data-widget="searchResultsV2">
  <div class="tile-root abc">
    <a href="/product/noutbuk-1-1001/?asb=token&avtc=1"><img src="//cdn1.ozone.ru/s3/1.jpg"></a>
    <a href="/product/noutbuk-1-1001/?asb=other"><span class="tsBody500Medium">Ноутбук Alpha 15</span></a>
    <span data-test-id="price-current">54 990 ₽</span>
    <span class="rating-stars">4.7</span>
    <span>1 234 отзыва</span>
  </div>
  <div class="tile-root abc">
    <a href="https://www.ozon.ru/product/noutbuk-2-1002/">Ноутбук   Beta 14</a>
    <span class="c-price">от 39 999 ₽</span>
    <span>4,2</span>
  </div>
  <div class="tile-root abc">
    <a href="/product/noutbuk-3-1003/"><span class="tsBody400">Ноутбук Gamma</span></a>
    <div>Цена 21&#8201;500&nbsp;₽ со скидкой</div>
  </div>
  <div class="tile-root abc">
    <span class="tsBody400">Без ссылки</span>
    <span data-test-id="price-current">1 000 ₽</span>
  </div>
  <div class="tile-root abc">
    <a href="/product/noutbuk-4-1004/"><span class="tsBody400">Без цены</span></a>
  </div>
  <div class="tile-root abc">
    <a href="/product/noutbuk-1-1001/?asb=again"><span class="tsBody400">Ноутбук Alpha 15</span></a>
    <span data-test-id="price-current">54 990 ₽</span>
  </div>
</div>
</body></html>`

func TestOzonExtraction(t *testing.T) {
	items := Ozon(ozonPage, Seen{}, 10)
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3: %+v", len(items), items)
	}

	alpha := items[0]
	if alpha.URL != "https://ozon.ru/product/noutbuk-1-1001/" {
		t.Errorf("URL = %q, want tracking query stripped", alpha.URL)
	}
	if alpha.Name != "Ноутбук Alpha 15" || alpha.Price != "54990" {
		t.Errorf("alpha = %q %q", alpha.Name, alpha.Price)
	}
	if alpha.Rating == nil || *alpha.Rating != "4,7" {
		t.Errorf("Rating = %v", alpha.Rating)
	}
	if alpha.Reviews == nil || *alpha.Reviews != "1234" {
		t.Errorf("Reviews = %v", alpha.Reviews)
	}
	if alpha.ImgURL == nil || *alpha.ImgURL != "https://cdn1.ozone.ru/s3/1.jpg" {
		t.Errorf("ImgURL = %v", alpha.ImgURL)
	}

	beta := items[1]
	if beta.Name != "Ноутбук Beta 14" {
		t.Errorf("link text fallback name = %q", beta.Name)
	}
	if beta.Price != "39999" {
		t.Errorf("price span fallback = %q", beta.Price)
	}
	if beta.Rating == nil || *beta.Rating != "4,2" {
		t.Errorf("any-span rating fallback = %v", beta.Rating)
	}
	if beta.Reviews != nil || beta.ImgURL != nil {
		t.Errorf("optional fields should be absent: %+v", beta)
	}

	gamma := items[2]
	if gamma.Price != "21500" {
		t.Errorf("card text ruble fallback = %q", gamma.Price)
	}
}

func TestOzonDedupAcrossCalls(t *testing.T) {
	seen := Seen{}
	first := Ozon(ozonPage, seen, 1)
	if len(first) != 1 {
		t.Fatalf("first pass = %d items, want 1", len(first))
	}
	second := Ozon(ozonPage, seen, 10)
	for _, it := range second {
		if it.URL == first[0].URL {
			t.Errorf("URL %s re-emitted on a later pass", it.URL)
		}
	}
	if len(second) != 2 {
		t.Errorf("second pass = %d items, want 2", len(second))
	}
}

func TestOzonWidgetFallback(t *testing.T) {
	page := `<div data-widget="searchResultsV2">
		<a href="/product/x-1/"><span class="tsBody">Единственный</span></a>
		<span data-test-id="price-current">100 ₽</span>
	</div>`
	items := Ozon(page, Seen{}, 5)
	if len(items) != 1 || items[0].Name != "Единственный" {
		t.Fatalf("widget fallback = %+v", items)
	}
}
