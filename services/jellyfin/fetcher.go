package jellyfin

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"
)

// PageFunc fetches one page of items starting at the given offset. The
// second return is the provider's reported total record count.
type PageFunc[T any] func(ctx context.Context, startIndex, limit int) ([]T, int, error)

// FetchAllPages pulls a known total of items from a paged endpoint
// using waves of up to parallelism concurrent page requests. Pages are
// appended in request order, so items keep provider order within and
// across pages. The first page failure aborts the whole fetch; retry
// of transient transport errors lives below this layer, in the client.
//
// If the provider's catalog mutates mid-fetch the reported total is not
// re-validated; callers tolerate a final count that differs slightly
// from the total they were told up front.
func FetchAllPages[T any](ctx context.Context, total, pageSize, parallelism int, fetch PageFunc[T]) ([]T, error) {
	if total <= 0 {
		return nil, nil
	}
	if pageSize <= 0 {
		pageSize = 1000
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	totalPages := (total + pageSize - 1) / pageSize
	items := make([]T, 0, total)

	for page := 0; page < totalPages; page += parallelism {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wave := parallelism
		if remaining := totalPages - page; remaining < wave {
			wave = remaining
		}

		results := make([][]T, wave)
		var (
			mu       sync.Mutex
			firstErr error
		)
		var wg conc.WaitGroup
		for i := 0; i < wave; i++ {
			i := i
			offset := (page + i) * pageSize
			wg.Go(func() {
				pageItems, _, err := fetch(ctx, offset, pageSize)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				results[i] = pageItems
			})
		}
		wg.Wait()

		if firstErr != nil {
			return nil, firstErr
		}
		for _, pageItems := range results {
			items = append(items, pageItems...)
		}
	}

	return items, nil
}
