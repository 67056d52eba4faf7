package pagination

import "fmt"

// Row is implemented by paginated models.
type Row interface {
	// SortValue returns the row's value for key: time.Time for
	// createdAt, float64 for price, string for name.
	SortValue(key SortKey) any
	PageID() uint64
}

// PageInfo describes the position of a page.
type PageInfo struct {
	Limit      int     `json:"limit"`
	HasMore    bool    `json:"hasMore"`
	NextCursor *string `json:"nextCursor"`
}

// Page is one page of results.
type Page[T any] struct {
	Items    []T      `json:"items"`
	PageInfo PageInfo `json:"pageInfo"`
}

// Trim turns up to Limit+1 fetched rows into a page. When more than Limit
// rows were fetched, the extra row is dropped and NextCursor points at
// the last returned item.
func Trim[T Row](rows []T, q Query) (Page[T], error) {
	page := Page[T]{
		Items:    rows,
		PageInfo: PageInfo{Limit: q.Limit},
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	if len(rows) <= q.Limit {
		return page, nil
	}

	page.Items = rows[:q.Limit]
	page.PageInfo.HasMore = true

	last := page.Items[len(page.Items)-1]
	c, err := NewCursor(q.Sort, last.SortValue(q.Sort), last.PageID())
	if err != nil {
		return Page[T]{}, fmt.Errorf("build next cursor: %w", err)
	}
	token, err := Encode(c, q.Order)
	if err != nil {
		return Page[T]{}, err
	}
	page.PageInfo.NextCursor = &token
	return page, nil
}
