package products

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-cache/pkg/pagination"
)

// ValidationError is a client input error. It maps to 400.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}

// Filters narrows the product set. Nil or empty fields are ignored.
type Filters struct {
	Category    string     `json:"category,omitempty"`
	MinPrice    *float64   `json:"minPrice,omitempty"`
	MaxPrice    *float64   `json:"maxPrice,omitempty"`
	CreatedFrom *time.Time `json:"createdFrom,omitempty"`
	CreatedTo   *time.Time `json:"createdTo,omitempty"`
	Q           string     `json:"q,omitempty"`
}

// ListParams is a list request as received. Its normalized form is the
// input of the cache key hash.
type ListParams struct {
	Filters   Filters `json:"filters"`
	SortBy    string  `json:"sortBy"`
	SortOrder string  `json:"sortOrder"`
	Limit     int     `json:"limit"`
	Cursor    string  `json:"cursor,omitempty"`
}

// ListQuery is a validated list request.
type ListQuery struct {
	Filters Filters
	Page    pagination.Query
}

// Validate checks ranges, applies defaults and decodes the cursor. It
// performs no I/O. The returned params are normalized for hashing.
func (p ListParams) Validate() (ListQuery, ListParams, error) {
	f := p.Filters
	f.Category = strings.TrimSpace(f.Category)
	f.Q = strings.TrimSpace(f.Q)
	f.CreatedFrom = truncateMillis(f.CreatedFrom)
	f.CreatedTo = truncateMillis(f.CreatedTo)

	if f.MinPrice != nil && (*f.MinPrice < 0 || math.IsNaN(*f.MinPrice) || math.IsInf(*f.MinPrice, 0)) {
		return ListQuery{}, p, &ValidationError{Field: "minPrice", Message: "must be a non-negative number"}
	}
	if f.MaxPrice != nil && (*f.MaxPrice < 0 || math.IsNaN(*f.MaxPrice) || math.IsInf(*f.MaxPrice, 0)) {
		return ListQuery{}, p, &ValidationError{Field: "maxPrice", Message: "must be a non-negative number"}
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return ListQuery{}, p, &ValidationError{Field: "minPrice", Message: "must not exceed maxPrice"}
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedFrom.After(*f.CreatedTo) {
		return ListQuery{}, p, &ValidationError{Field: "createdFrom", Message: "must not be after createdTo"}
	}

	page, err := pagination.NewQuery(p.SortBy, p.SortOrder, p.Limit, p.Cursor)
	if err != nil {
		field := "cursor"
		switch {
		case errors.Is(err, pagination.ErrInvalidCursor), errors.Is(err, pagination.ErrCursorMismatch):
		default:
			field = ""
		}
		return ListQuery{}, p, invalid(field, err)
	}

	normalized := ListParams{
		Filters:   f,
		SortBy:    string(page.Sort),
		SortOrder: string(page.Order),
		Limit:     page.Limit,
		Cursor:    p.Cursor,
	}
	return ListQuery{Filters: f, Page: page}, normalized, nil
}

// truncateMillis drops sub-millisecond precision, matching the precision
// of the cache key.
func truncateMillis(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}

// ParseListParams reads list parameters from a query string.
func ParseListParams(values url.Values) (ListParams, error) {
	p := ListParams{
		Filters: Filters{
			Category: values.Get("category"),
			Q:        values.Get("q"),
		},
		SortBy:    values.Get("sortBy"),
		SortOrder: values.Get("sortOrder"),
		Cursor:    values.Get("cursor"),
	}

	var err error
	if p.Filters.MinPrice, err = parseFloat(values, "minPrice"); err != nil {
		return p, err
	}
	if p.Filters.MaxPrice, err = parseFloat(values, "maxPrice"); err != nil {
		return p, err
	}
	if p.Filters.CreatedFrom, err = parseTime(values, "createdFrom"); err != nil {
		return p, err
	}
	if p.Filters.CreatedTo, err = parseTime(values, "createdTo"); err != nil {
		return p, err
	}
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return p, &ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		p.Limit = n
	}
	return p, nil
}

func parseFloat(values url.Values, field string) (*float64, error) {
	s := values.Get(field)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &ValidationError{Field: field, Message: "must be a number", Err: err}
	}
	return &f, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(values url.Values, field string) (*time.Time, error) {
	s := values.Get(field)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &ValidationError{Field: field, Message: "must be an ISO-8601 date or timestamp"}
}
