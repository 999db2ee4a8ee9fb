package extract

import "testing"

func TestCleanPrice(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1 299 ₽", "1299"},
		{"12 499 ₽", "12499"},
		{"от 990 руб.", "990"},
		{"бесплатно", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanPrice(tt.in); got != tt.want {
			t.Errorf("CleanPrice(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeRating(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"4.8", "4,8", true},
		{"4,87", "4,9", true},
		{"5", "5,0", true},
		{" 3.0 ", "3,0", true},
		{"4.9 • 1 200 отзывов", "4,9", true},
		{"0", "", false},
		{"0.5", "", false},
		{"7.2", "", false},
		{"нет оценок", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeRating(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeRating(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCleanReviews(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"128 отзывов", "128", true},
		{"1 234 отзыва", "1234", true},
		{"12 345 отзывов", "12345", true},
		{"0 отзывов", "0", true},
		{"нет отзывов", "", false},
	}
	for _, tt := range tests {
		got, ok := CleanReviews(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CleanReviews(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		href, want string
	}{
		{"/product/abc-123/", "https://ozon.ru/product/abc-123/"},
		{"//cdn1.ozone.ru/s3/x.jpg", "https://cdn1.ozone.ru/s3/x.jpg"},
		{"https://www.ozon.ru/product/1/", "https://www.ozon.ru/product/1/"},
		{"product/2/", "https://ozon.ru/product/2/"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := AbsoluteURL(OzonOrigin, tt.href); got != tt.want {
			t.Errorf("AbsoluteURL(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestFirstStrategy(t *testing.T) {
	calls := 0
	miss := func(string) (string, bool) { calls++; return "", false }
	empty := func(string) (string, bool) { calls++; return "", true }
	hit := func(s string) (string, bool) { calls++; return s + "!", true }
	never := func(string) (string, bool) { t.Fatal("strategy after first success must not run"); return "", false }

	got, ok := First("x", miss, empty, hit, never)
	if !ok || got != "x!" {
		t.Fatalf("First = (%q, %v)", got, ok)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if _, ok := First[string]("x"); ok {
		t.Error("no strategies should report absent")
	}
}
