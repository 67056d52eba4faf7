package pagination

import (
	"fmt"

	"github.com/uptrace/bun"
)

// Query is a validated page request: sort, direction, size and an
// optional cursor from the previous page.
type Query struct {
	Sort  SortKey
	Order Order
	Limit int
	After Cursor
}

// NewQuery validates sortBy, sortOrder and limit and decodes cursor
// against them. Every returned error is a client input error.
func NewQuery(sortBy, sortOrder string, limit int, cursor string) (Query, error) {
	key, err := ParseSortKey(sortBy)
	if err != nil {
		return Query{}, err
	}
	order, err := ParseOrder(sortOrder)
	if err != nil {
		return Query{}, err
	}
	limit, err = NormalizeLimit(limit)
	if err != nil {
		return Query{}, err
	}

	q := Query{Sort: key, Order: order, Limit: limit}
	if cursor != "" {
		if q.After, err = Decode(cursor, key, order); err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

// Validate checks a Query built by hand.
func (p Query) Validate() error {
	if _, err := ParseSortKey(string(p.Sort)); err != nil {
		return err
	}
	if p.Order != OrderAsc && p.Order != OrderDesc {
		return fmt.Errorf("unsupported sortOrder %q", p.Order)
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, p.Limit)
	}
	if p.After != nil && p.After.SortKey() != p.Sort {
		return fmt.Errorf("%w: cursor for %s used with sortBy=%s", ErrCursorMismatch, p.After.SortKey(), p.Sort)
	}
	return nil
}

// Apply adds the seek predicate, the (sort column, id) ordering and a
// limit of Limit+1 rows to q. The extra row tells Trim whether another
// page exists.
//
//	WHERE (col > v) OR (col = v AND id > id0)   -- asc; < for desc
//	ORDER BY col ASC, id ASC
//	LIMIT n+1
func (p Query) Apply(q *bun.SelectQuery) *bun.SelectQuery {
	col := bun.Ident(p.Sort.Column())
	id := bun.Ident("id")
	op := p.Order.seekOp()

	if p.After != nil {
		v := p.After.Value()
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("? "+op+" ?", col, v).
				WhereOr("? = ? AND ? "+op+" ?", col, v, id, p.After.RowID())
		})
	}

	dir := p.Order.SQL()
	return q.
		OrderExpr("? "+dir+", ? "+dir, col, id).
		Limit(p.Limit + 1)
}
