package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFetchAllPagesCompleteAndOrdered(t *testing.T) {
	const total = 2450
	const pageSize = 1000

	var calls int32
	fetch := func(ctx context.Context, startIndex, limit int) ([]int, int, error) {
		atomic.AddInt32(&calls, 1)
		end := startIndex + limit
		if end > total {
			end = total
		}
		page := make([]int, 0, end-startIndex)
		for i := startIndex; i < end; i++ {
			page = append(page, i)
		}
		return page, total, nil
	}

	items, err := FetchAllPages(context.Background(), total, pageSize, 4, fetch)
	if err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}
	if len(items) != total {
		t.Fatalf("got %d items, want %d", len(items), total)
	}
	// A short final page must not truncate the fetch or shift order.
	for i, v := range items {
		if v != i {
			t.Fatalf("items out of order at %d: got %d", i, v)
		}
	}
	if calls != 3 {
		t.Errorf("fetch called %d times, want 3", calls)
	}
}

func TestFetchAllPagesConcurrencyCap(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	fetch := func(ctx context.Context, startIndex, limit int) ([]int, int, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
		return make([]int, limit), 1000, nil
	}

	if _, err := FetchAllPages(context.Background(), 1000, 100, 3, fetch); err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}
	if maxInFlight > 3 {
		t.Errorf("max in-flight pages = %d, want <= 3", maxInFlight)
	}
}

func TestFetchAllPagesFirstErrorAborts(t *testing.T) {
	wantErr := errors.New("page exploded")
	fetch := func(ctx context.Context, startIndex, limit int) ([]int, int, error) {
		if startIndex == 100 {
			return nil, 0, fmt.Errorf("fetch page: %w", wantErr)
		}
		return make([]int, limit), 500, nil
	}

	_, err := FetchAllPages(context.Background(), 500, 100, 2, fetch)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestFetchAllPagesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetch := func(ctx context.Context, startIndex, limit int) ([]int, int, error) {
		t.Fatal("fetch must not run after cancellation")
		return nil, 0, nil
	}

	if _, err := FetchAllPages(ctx, 100, 10, 2, fetch); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFetchAllPagesEmptyCatalog(t *testing.T) {
	items, err := FetchAllPages(context.Background(), 0, 100, 4,
		func(ctx context.Context, startIndex, limit int) ([]int, int, error) {
			t.Fatal("fetch must not run for an empty catalog")
			return nil, 0, nil
		})
	if err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d items, want 0", len(items))
	}
}
