package pagination

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type item struct {
	bun.BaseModel `bun:"table:items"`

	ID        uint64    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name" json:"name"`
	Price     float64   `bun:"price" json:"price"`
	CreatedAt time.Time `bun:"created_at" json:"createdAt"`
}

func (i item) SortValue(key SortKey) any {
	switch key {
	case SortPrice:
		return i.Price
	case SortName:
		return i.Name
	default:
		return i.CreatedAt
	}
}

func (i item) PageID() uint64 { return i.ID }

func setupTestDB(t *testing.T, rows []item) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps the in-memory database alive across queries.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if _, err := db.NewCreateTable().Model((*item)(nil)).Exec(ctx); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if len(rows) > 0 {
		if _, err := db.NewInsert().Model(&rows).Exec(ctx); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return db
}

func fetchPage(t *testing.T, db *bun.DB, q Query) Page[item] {
	t.Helper()

	var rows []item
	if err := q.Apply(db.NewSelect().Model(&rows)).Scan(context.Background()); err != nil {
		t.Fatalf("select: %v", err)
	}
	page, err := Trim(rows, q)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	return page
}

func ids(items []item) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApply_SQL(t *testing.T) {
	db := setupTestDB(t, nil)

	q := Query{Sort: SortName, Order: OrderDesc, Limit: 2, After: TextCursor{V: "m", ID: 1}}
	got := q.Apply(db.NewSelect().Model((*item)(nil))).String()

	for _, want := range []string{
		`"name" < 'm'`,
		`"name" = 'm' AND "id" < 1`,
		` OR `,
		`ORDER BY "name" DESC, "id" DESC`,
		`LIMIT 3`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("query %q does not contain %q", got, want)
		}
	}
}

func TestPagination_PriceAscExample(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db := setupTestDB(t, []item{
		{ID: 1, Name: "a", Price: 10, CreatedAt: base},
		{ID: 2, Name: "b", Price: 10, CreatedAt: base},
		{ID: 3, Name: "c", Price: 20, CreatedAt: base},
		{ID: 4, Name: "d", Price: 5, CreatedAt: base},
	})

	q, err := NewQuery("price", "asc", 2, "")
	if err != nil {
		t.Fatal(err)
	}

	first := fetchPage(t, db, q)
	if !equalIDs(ids(first.Items), []uint64{4, 1}) {
		t.Errorf("page 1 ids = %v, want [4 1]", ids(first.Items))
	}
	if !first.PageInfo.HasMore || first.PageInfo.NextCursor == nil {
		t.Fatalf("page 1 hasMore = %v, nextCursor = %v", first.PageInfo.HasMore, first.PageInfo.NextCursor)
	}

	c, err := Decode(*first.PageInfo.NextCursor, SortPrice, OrderAsc)
	if err != nil {
		t.Fatal(err)
	}
	if c != (NumericCursor{V: 10, ID: 1}) {
		t.Errorf("nextCursor = %#v, want {v:10, id:1}", c)
	}

	q, err = NewQuery("price", "asc", 2, *first.PageInfo.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	second := fetchPage(t, db, q)
	if !equalIDs(ids(second.Items), []uint64{2, 3}) {
		t.Errorf("page 2 ids = %v, want [2 3]", ids(second.Items))
	}
	if second.PageInfo.HasMore || second.PageInfo.NextCursor != nil {
		t.Errorf("page 2 hasMore = %v, want false with no cursor", second.PageInfo.HasMore)
	}

	if _, err := NewQuery("name", "asc", 2, *first.PageInfo.NextCursor); err == nil {
		t.Error("cursor minted for price accepted under sortBy=name")
	}
}

func TestPagination_WalkVisitsEveryRowOnce(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []item
	for i := 1; i <= 23; i++ {
		rows = append(rows, item{
			ID:        uint64(i),
			Name:      string(rune('a' + i%5)),                  // duplicate names
			Price:     float64(i % 4),                           // duplicate prices
			CreatedAt: base.Add(time.Duration(i%6) * time.Hour), // duplicate timestamps
		})
	}
	db := setupTestDB(t, rows)

	for _, key := range []SortKey{SortCreatedAt, SortPrice, SortName} {
		for _, order := range []Order{OrderAsc, OrderDesc} {
			t.Run(string(key)+"_"+string(order), func(t *testing.T) {
				fetch := func(ctx context.Context, cursor string) (Page[item], error) {
					q, err := NewQuery(string(key), string(order), 4, cursor)
					if err != nil {
						return Page[item]{}, err
					}
					return fetchPage(t, db, q), nil
				}

				var got []item
				n, err := Walk(context.Background(), fetch, 0, func(it item) error {
					got = append(got, it)
					return nil
				})
				if err != nil {
					t.Fatalf("Walk() error = %v", err)
				}
				if n != len(rows) {
					t.Fatalf("visited %d rows, want %d", n, len(rows))
				}

				want := append([]item(nil), rows...)
				sort.SliceStable(want, func(i, j int) bool {
					return less(want[i], want[j], key, order)
				})
				if !equalIDs(ids(got), ids(want)) {
					t.Errorf("order = %v\nwant    %v", ids(got), ids(want))
				}
			})
		}
	}
}

func less(a, b item, key SortKey, order Order) bool {
	var cmp int
	switch key {
	case SortPrice:
		cmp = compare(a.Price < b.Price, a.Price > b.Price)
	case SortName:
		cmp = compare(a.Name < b.Name, a.Name > b.Name)
	default:
		cmp = compare(a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.After(b.CreatedAt))
	}
	if cmp == 0 {
		cmp = compare(a.ID < b.ID, a.ID > b.ID)
	}
	if order == OrderDesc {
		return cmp > 0
	}
	return cmp < 0
}

func compare(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

func TestTrim_EmptyAndExact(t *testing.T) {
	q := Query{Sort: SortPrice, Order: OrderAsc, Limit: 2}

	page, err := Trim[item](nil, q)
	if err != nil {
		t.Fatal(err)
	}
	if page.Items == nil || len(page.Items) != 0 || page.PageInfo.HasMore {
		t.Errorf("empty page = %+v", page)
	}

	page, _ = Trim([]item{{ID: 1}, {ID: 2}}, q)
	if page.PageInfo.HasMore || page.PageInfo.NextCursor != nil {
		t.Error("exactly limit rows must not report more")
	}
}

func TestWalk_MaxPages(t *testing.T) {
	next := "c"
	fetch := func(ctx context.Context, cursor string) (Page[int], error) {
		return Page[int]{Items: []int{1}, PageInfo: PageInfo{HasMore: true, NextCursor: &next}}, nil
	}
	n, err := Walk(context.Background(), fetch, 3, func(int) error { return nil })
	if err == nil || n != 3 {
		t.Errorf("Walk() = %d, %v; want 3 items and ErrTooManyPages", n, err)
	}
}
