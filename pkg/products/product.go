// Package products serves the product listing and stats reads: request
// validation, bun-backed queries and the cached, deduplicated service
// that composes them.
package products

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/catalog-cache/pkg/pagination"
	"github.com/uptrace/bun"
)

// Product is a row of the products table.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID          uint64    `bun:"id,pk,autoincrement" json:"id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description *string   `bun:"description" json:"description,omitempty"`
	Price       Price     `bun:"price,type:numeric(12,2),notnull" json:"price"`
	Category    string    `bun:"category,notnull" json:"category"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// Price is a product price. sqlite stores whole numbers in a NUMERIC
// column as INTEGER, so Scan accepts both integer and float forms.
type Price float64

// Scan implements sql.Scanner.
func (p *Price) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = 0
	case float64:
		*p = Price(v)
	case float32:
		*p = Price(v)
	case int64:
		*p = Price(v)
	case []byte:
		return p.parse(string(v))
	case string:
		return p.parse(v)
	default:
		return fmt.Errorf("products: cannot scan %T into Price", src)
	}
	return nil
}

func (p *Price) parse(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("products: invalid price %q: %w", s, err)
	}
	*p = Price(f)
	return nil
}

// Value implements driver.Valuer.
func (p Price) Value() (driver.Value, error) {
	return float64(p), nil
}

// SortValue implements pagination.Row.
func (p Product) SortValue(key pagination.SortKey) any {
	switch key {
	case pagination.SortPrice:
		return float64(p.Price)
	case pagination.SortName:
		return p.Name
	default:
		return p.CreatedAt
	}
}

// PageID implements pagination.Row.
func (p Product) PageID() uint64 {
	return p.ID
}

// ListResult is one page of products.
type ListResult = pagination.Page[Product]

// Totals summarizes the whole table.
type Totals struct {
	Total        int64      `json:"total"`
	MinPrice     *float64   `json:"minPrice"`
	MaxPrice     *float64   `json:"maxPrice"`
	MinCreatedAt *time.Time `json:"minCreatedAt"`
	MaxCreatedAt *time.Time `json:"maxCreatedAt"`
}

// CategoryCount is the number of products in one category.
type CategoryCount struct {
	Category string `bun:"category" json:"category"`
	Count    int64  `bun:"count" json:"count"`
}

// Stats is the stats query result.
type Stats struct {
	Totals     Totals          `json:"totals"`
	ByCategory []CategoryCount `json:"byCategory"`
}
