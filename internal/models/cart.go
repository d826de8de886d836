package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CartItem is one line in the cart. The name/image/price/provider fields are
// snapshots taken when the line is added and are never refreshed afterwards,
// so historical cart and order views stay stable even if the catalog changes.
type CartItem struct {
	ID            string      `json:"id"`
	ProductID     string      `json:"productId"`
	Quantity      int         `json:"quantity"`
	Color         string      `json:"color,omitempty"`
	Size          string      `json:"size,omitempty"`
	Price         float64     `json:"price"`
	ProductName   string      `json:"productName"`
	ImageURL      string      `json:"imageUrl"`
	ProviderName  string      `json:"providerName"`
	IsChecked     bool        `json:"isChecked"`
	CreatedAt     time.Time   `json:"createdAt"`
	ProductPrices []PriceRule `json:"productPrices,omitempty"`
}

// SelectorKey identifies the (product, color, size) combination a line is
// keyed by. The cart holds at most one line per selector.
func (c *CartItem) SelectorKey() string {
	return c.ProductID + "|" + c.Color + "|" + c.Size
}

// NewLocalID builds the client-generated id a line carries until the server
// assigns one: productId + color + size + creation timestamp.
func NewLocalID(productID, color, size string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%d", productID, color, size, createdAt.UnixNano())
}

// PriceRule is a server-side tiered price: Quantity is a comma-separated set
// of quantities ("1,2,3") the Price applies to.
type PriceRule struct {
	Quantity string  `json:"quantity"`
	Price    float64 `json:"price"`
}

// PriceFor reports the tiered price applicable to the given quantity, if any
// rule lists it.
func (r *PriceRule) PriceFor(quantity int) (float64, bool) {
	for _, part := range strings.Split(r.Quantity, ",") {
		q, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}

		if q == quantity {
			return r.Price, true
		}
	}

	return 0, false
}

// TieredPrice resolves the unit price for a quantity across a rule list,
// falling back to the line's snapshot price when no rule matches.
func TieredPrice(rules []PriceRule, quantity int, fallback float64) float64 {
	for i := range rules {
		if price, ok := rules[i].PriceFor(quantity); ok {
			return price
		}
	}

	return fallback
}

type AddItemRequest struct {
	ProductID    string  `json:"productId"    validate:"required"`
	Quantity     int     `json:"quantity"     validate:"required,min=1"`
	Price        float64 `json:"price"        validate:"required,min=0"`
	ProductName  string  `json:"productName"  validate:"required"`
	ImageURL     string  `json:"imageUrl"`
	ProviderName string  `json:"providerName"`
	Color        string  `json:"color"`
	Size         string  `json:"size"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type ToggleCheckRequest struct {
	IsChecked bool `json:"isChecked"`
}

type BatchRemoveRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}
