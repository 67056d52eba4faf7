package pagination

import (
	"fmt"
	"strings"
)

const (
	// DefaultLimit is the page size when none is requested.
	DefaultLimit = 20

	// MaxLimit caps the page size; queries fetch at most MaxLimit+1 rows.
	MaxLimit = 100
)

// SortKey is a client-facing sortable field.
type SortKey string

const (
	SortCreatedAt SortKey = "createdAt"
	SortPrice     SortKey = "price"
	SortName      SortKey = "name"
)

// Column returns the SQL column backing the sort key.
func (k SortKey) Column() string {
	switch k {
	case SortPrice:
		return "price"
	case SortName:
		return "name"
	default:
		return "created_at"
	}
}

// ParseSortKey parses a sortBy value. Empty selects SortCreatedAt.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.TrimSpace(s)); k {
	case "":
		return SortCreatedAt, nil
	case SortCreatedAt, SortPrice, SortName:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported sortBy %q (want createdAt, price or name)", s)
	}
}

// Order is a sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder parses a sortOrder value. Empty selects OrderDesc.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderDesc, nil
	case OrderAsc, OrderDesc:
		return o, nil
	default:
		return "", fmt.Errorf("unsupported sortOrder %q (want asc or desc)", s)
	}
}

// SQL returns ASC or DESC.
func (o Order) SQL() string {
	if o == OrderAsc {
		return "ASC"
	}
	return "DESC"
}

// seekOp is the comparison meaning "after" in this direction.
func (o Order) seekOp() string {
	if o == OrderAsc {
		return ">"
	}
	return "<"
}

// NormalizeLimit applies DefaultLimit to zero and rejects values outside 1..MaxLimit.
func NormalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < 1 || limit > MaxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, limit)
	}
	return limit, nil
}
