package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidCursor indicates a cursor that cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrCursorMismatch indicates a cursor replayed with a different sortBy or sortOrder.
	ErrCursorMismatch = errors.New("cursor does not match sort")
)

// Cursor points at the last row of a page: its sort column value and id.
// It is one of DateCursor, NumericCursor or TextCursor, chosen by sort key.
type Cursor interface {
	// SortKey is the sort the cursor was minted under.
	SortKey() SortKey

	// RowID is the id of the last returned row.
	RowID() uint64

	// Value is the sort column value, typed for the query builder.
	Value() any
}

// DateCursor seeks on created_at.
type DateCursor struct {
	At time.Time
	ID uint64
}

func (c DateCursor) SortKey() SortKey { return SortCreatedAt }
func (c DateCursor) RowID() uint64    { return c.ID }
func (c DateCursor) Value() any       { return c.At }

// NumericCursor seeks on price.
type NumericCursor struct {
	V  float64
	ID uint64
}

func (c NumericCursor) SortKey() SortKey { return SortPrice }
func (c NumericCursor) RowID() uint64    { return c.ID }
func (c NumericCursor) Value() any       { return c.V }

// TextCursor seeks on name.
type TextCursor struct {
	V  string
	ID uint64
}

func (c TextCursor) SortKey() SortKey { return SortName }
func (c TextCursor) RowID() uint64    { return c.ID }
func (c TextCursor) Value() any       { return c.V }

// NewCursor builds the cursor variant for key from a raw sort value.
func NewCursor(key SortKey, value any, id uint64) (Cursor, error) {
	switch key {
	case SortCreatedAt:
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: createdAt value must be a time, got %T", ErrInvalidCursor, value)
		}
		return DateCursor{At: t.UTC(), ID: id}, nil
	case SortPrice:
		switch v := value.(type) {
		case float64:
			return NumericCursor{V: v, ID: id}, nil
		case int:
			return NumericCursor{V: float64(v), ID: id}, nil
		case int64:
			return NumericCursor{V: float64(v), ID: id}, nil
		}
		return nil, fmt.Errorf("%w: price value must be numeric, got %T", ErrInvalidCursor, value)
	case SortName:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: name value must be a string, got %T", ErrInvalidCursor, value)
		}
		return TextCursor{V: s, ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidCursor, key)
	}
}

// token is the wire form. Sort and order are embedded so a cursor cannot
// be replayed under a different sort.
type token struct {
	Sort  SortKey         `json:"s"`
	Order Order           `json:"o"`
	V     json.RawMessage `json:"v"`
	ID    uint64          `json:"id"`
}

// Encode returns the opaque base64url form of c minted under order.
func Encode(c Cursor, order Order) (string, error) {
	var v any
	switch c := c.(type) {
	case DateCursor:
		v = c.At.UTC().Format(time.RFC3339Nano)
	case NumericCursor:
		if math.IsNaN(c.V) || math.IsInf(c.V, 0) {
			return "", fmt.Errorf("%w: non-finite price", ErrInvalidCursor)
		}
		v = c.V
	case TextCursor:
		v = c.V
	default:
		return "", fmt.Errorf("%w: unsupported cursor type %T", ErrInvalidCursor, c)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode cursor value: %w", err)
	}
	data, err := json.Marshal(token{Sort: c.SortKey(), Order: order, V: raw, ID: c.RowID()})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses s and checks that it was minted under key and order.
// Malformed input returns ErrInvalidCursor; a valid cursor from another
// sort returns ErrCursorMismatch.
func Decode(s string, key SortKey, order Order) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64url", ErrInvalidCursor)
	}

	var tok token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if tok.ID == 0 || len(tok.V) == 0 {
		return nil, fmt.Errorf("%w: missing value or id", ErrInvalidCursor)
	}
	if tok.Sort != key || tok.Order != order {
		return nil, fmt.Errorf("%w: minted for sortBy=%s sortOrder=%s, used with sortBy=%s sortOrder=%s",
			ErrCursorMismatch, tok.Sort, tok.Order, key, order)
	}

	switch key {
	case SortCreatedAt:
		var s string
		if err := json.Unmarshal(tok.V, &s); err != nil {
			return nil, fmt.Errorf("%w: createdAt value must be a string", ErrInvalidCursor)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: createdAt value: %v", ErrInvalidCursor, err)
		}
		return DateCursor{At: t.UTC(), ID: tok.ID}, nil
	case SortPrice:
		var f float64
		if err := json.Unmarshal(tok.V, &f); err != nil {
			return nil, fmt.Errorf("%w: price value must be a number", ErrInvalidCursor)
		}
		return NumericCursor{V: f, ID: tok.ID}, nil
	case SortName:
		var s string
		if err := json.Unmarshal(tok.V, &s); err != nil {
			return nil, fmt.Errorf("%w: name value must be a string", ErrInvalidCursor)
		}
		return TextCursor{V: s, ID: tok.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidCursor, tok.Sort)
	}
}
