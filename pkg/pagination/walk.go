package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTooManyPages is returned by Walk when maxPages is reached while
// pages remain.
var ErrTooManyPages = errors.New("page limit reached")

// PageFetcher returns the page after cursor ("" for the first page).
type PageFetcher[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Walk follows NextCursor from the first page until HasMore is false,
// calling visit for every item in order. It returns the number of items
// visited. maxPages <= 0 means no limit.
func Walk[T any](ctx context.Context, fetch PageFetcher[T], maxPages int, visit func(T) error) (int, error) {
	start := time.Now()
	cursor := ""
	items := 0

	for pages := 1; ; pages++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		page, err := fetch(ctx, cursor)
		if err != nil {
			return items, fmt.Errorf("fetch page %d: %w", pages, err)
		}

		for _, item := range page.Items {
			if err := visit(item); err != nil {
				return items, err
			}
			items++
		}

		// Progress logging every 50 pages
		if pages%50 == 0 {
			log.Debug().
				Int("pages", pages).
				Int("items", items).
				Msg("Walk progress")
		}

		if !page.PageInfo.HasMore || page.PageInfo.NextCursor == nil {
			log.Debug().
				Int("pages", pages).
				Int("items", items).
				Dur("duration", time.Since(start)).
				Msg("Walk complete")
			return items, nil
		}
		if maxPages > 0 && pages >= maxPages {
			return items, fmt.Errorf("%w after %d pages", ErrTooManyPages, pages)
		}
		cursor = *page.PageInfo.NextCursor
	}
}
