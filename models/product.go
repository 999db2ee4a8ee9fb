package models

// Marketplace identifies the upstream a ProductItem was harvested from.
type Marketplace string

const (
	MarketplaceWildberries Marketplace = "wildberries"
	MarketplaceOzon        Marketplace = "ozon"
)

// ProductItem is the canonical unit of output.
//
// Name, URL and Price are always present on emitted items; Price is a
// digit-only string in whole currency units. Rating uses "," as decimal
// separator with one fractional digit ("4,8").
type ProductItem struct {
	Marketplace Marketplace `json:"marketplace"`
	Name        string      `json:"name"`
	URL         string      `json:"url"`
	Price       string      `json:"price"`
	Rating      *string     `json:"rating,omitempty"`
	Reviews     *string     `json:"reviews,omitempty"`
	ImgURL      *string     `json:"img_url,omitempty"`
}

// Valid reports whether the required fields are present and the price is
// strictly numeric.
func (p *ProductItem) Valid() bool {
	if p == nil || p.URL == "" || p.Name == "" || p.Price == "" {
		return false
	}
	for i := 0; i < len(p.Price); i++ {
		if p.Price[i] < '0' || p.Price[i] > '9' {
			return false
		}
	}
	return true
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
