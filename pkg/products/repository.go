package products

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Sternrassler/catalog-cache/pkg/pagination"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// maxStatsCategories bounds the byCategory breakdown.
const maxStatsCategories = 50

// Repository reads products from relational storage.
type Repository interface {
	ListPage(ctx context.Context, q ListQuery) (ListResult, error)
	Stats(ctx context.Context) (Stats, error)
}

// BunRepository implements Repository on bun (postgres or sqlite).
type BunRepository struct {
	db *bun.DB
}

// NewRepository creates a BunRepository.
func NewRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

// ListPage runs one keyset page query. Storage errors are returned
// wrapped and are not retried.
func (r *BunRepository) ListPage(ctx context.Context, q ListQuery) (ListResult, error) {
	var rows []Product

	sel := r.db.NewSelect().Model(&rows)
	sel = r.applyFilters(sel, q.Filters)
	sel = q.Page.Apply(sel)

	if err := sel.Scan(ctx); err != nil {
		return ListResult{}, fmt.Errorf("list products: %w", err)
	}

	page, err := pagination.Trim(rows, q.Page)
	if err != nil {
		return ListResult{}, fmt.Errorf("list products: %w", err)
	}
	return page, nil
}

func (r *BunRepository) applyFilters(q *bun.SelectQuery, f Filters) *bun.SelectQuery {
	if f.Category != "" {
		q = q.Where("? = ?", bun.Ident("category"), f.Category)
	}
	if f.MinPrice != nil {
		q = q.Where("? >= ?", bun.Ident("price"), *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("? <= ?", bun.Ident("price"), *f.MaxPrice)
	}
	if f.CreatedFrom != nil {
		q = q.Where("? >= ?", bun.Ident("created_at"), *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		q = q.Where("? <= ?", bun.Ident("created_at"), *f.CreatedTo)
	}
	if f.Q != "" {
		q = r.applySearch(q, f.Q)
	}
	return q
}

// applySearch matches q against name and description: full-text search
// on postgres, a case-insensitive substring match elsewhere.
func (r *BunRepository) applySearch(q *bun.SelectQuery, text string) *bun.SelectQuery {
	if r.db.Dialect().Name() == dialect.PG {
		return q.Where(searchVector+" @@ plainto_tsquery('simple', ?)", text)
	}

	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("LOWER(?) LIKE ? ESCAPE '\\'", bun.Ident("name"), pattern).
			WhereOr("LOWER(COALESCE(?, '')) LIKE ? ESCAPE '\\'", bun.Ident("description"), pattern)
	})
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Stats aggregates the whole table. Empty tables yield a zero total and
// nil min/max values.
func (r *BunRepository) Stats(ctx context.Context) (Stats, error) {
	var (
		total              int64
		minPrice, maxPrice sql.NullFloat64
		minCreated         bun.NullTime
		maxCreated         bun.NullTime
	)

	err := r.db.NewSelect().
		Model((*Product)(nil)).
		ColumnExpr("COUNT(*)").
		ColumnExpr("MIN(?)", bun.Ident("price")).
		ColumnExpr("MAX(?)", bun.Ident("price")).
		ColumnExpr("MIN(?)", bun.Ident("created_at")).
		ColumnExpr("MAX(?)", bun.Ident("created_at")).
		Scan(ctx, &total, &minPrice, &maxPrice, &minCreated, &maxCreated)
	if err != nil {
		return Stats{}, fmt.Errorf("product totals: %w", err)
	}

	stats := Stats{Totals: Totals{Total: total}}
	if minPrice.Valid {
		stats.Totals.MinPrice = &minPrice.Float64
	}
	if maxPrice.Valid {
		stats.Totals.MaxPrice = &maxPrice.Float64
	}
	if !minCreated.IsZero() {
		t := minCreated.Time.UTC()
		stats.Totals.MinCreatedAt = &t
	}
	if !maxCreated.IsZero() {
		t := maxCreated.Time.UTC()
		stats.Totals.MaxCreatedAt = &t
	}

	stats.ByCategory = []CategoryCount{}
	err = r.db.NewSelect().
		Model((*Product)(nil)).
		Column("category").
		ColumnExpr("COUNT(*) AS ?", bun.Ident("count")).
		Group("category").
		OrderExpr("? DESC, ? ASC", bun.Ident("count"), bun.Ident("category")).
		Limit(maxStatsCategories).
		Scan(ctx, &stats.ByCategory)
	if err != nil {
		return Stats{}, fmt.Errorf("product categories: %w", err)
	}

	return stats, nil
}
