package products

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// searchVector is the full-text document; the GIN index uses the same expression.
const searchVector = "to_tsvector('simple', coalesce(name, '') || ' ' || coalesce(description, ''))"

// CreateSchema creates the products table and the (sort column, id)
// indexes used by keyset pagination. It is idempotent.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*Product)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create products table: %w", err)
	}

	indexes := []struct {
		name    string
		columns []string
	}{
		{"products_created_at_id_idx", []string{"created_at", "id"}},
		{"products_price_id_idx", []string{"price", "id"}},
		{"products_name_id_idx", []string{"name", "id"}},
		{"products_category_idx", []string{"category"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model((*Product)(nil)).
			Index(idx.name).
			IfNotExists().
			Column(idx.columns...).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	if db.Dialect().Name() == dialect.PG {
		_, err := db.ExecContext(ctx,
			"CREATE INDEX IF NOT EXISTS products_search_idx ON products USING GIN ("+searchVector+")")
		if err != nil {
			return fmt.Errorf("create search index: %w", err)
		}
	}
	return nil
}

var seedCategories = []string{"books", "electronics", "garden", "home", "sports", "toys"}

var seedAdjectives = []string{"Compact", "Deluxe", "Eco", "Classic", "Smart", "Rugged", "Mini"}

var seedNouns = []string{"Lamp", "Backpack", "Speaker", "Kettle", "Notebook", "Drone", "Chair", "Puzzle"}

// SeedProducts returns n deterministic demo products created before now,
// one minute apart.
func SeedProducts(n int, now time.Time) []Product {
	now = now.UTC().Truncate(time.Second)
	out := make([]Product, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s %s %04d",
			seedAdjectives[i%len(seedAdjectives)], seedNouns[(i/3)%len(seedNouns)], i+1)
		var desc *string
		if i%4 != 0 {
			d := fmt.Sprintf("A %s item for everyday use", seedCategories[i%len(seedCategories)])
			desc = &d
		}
		out = append(out, Product{
			Name:        name,
			Description: desc,
			// Cents are spread so that prices repeat across rows.
			Price:     Price((i*7919)%50000) / 100,
			Category:  seedCategories[i%len(seedCategories)],
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	return out
}

// Seed inserts n demo products when the table is empty. It returns the
// number of rows inserted.
func Seed(ctx context.Context, db *bun.DB, n int, now time.Time) (int, error) {
	count, err := db.NewSelect().Model((*Product)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if count > 0 || n <= 0 {
		return 0, nil
	}

	rows := SeedProducts(n, now)
	const batch = 500
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		chunk := rows[start:end]
		if _, err := db.NewInsert().Model(&chunk).Exec(ctx); err != nil {
			return start, fmt.Errorf("insert products: %w", err)
		}
	}
	return len(rows), nil
}
