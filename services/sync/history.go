package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"mediamirror/models"
	"mediamirror/services/jellyfin"
)

// syncUserHistory mirrors one user's played items. Delta mode asks the
// provider only for items saved since the user's watermark and never
// deletes; full mode refetches everything and prunes rows the provider
// no longer reports. The watermark is taken before fetching and
// advanced unconditionally on success, so items played mid-sync are
// picked up again next time rather than lost.
func (s *Service) syncUserHistory(ctx context.Context, user models.User, libraries []jellyfin.Library, full bool) (upserted, pruned int, err error) {
	excluded := user.ExcludedLibrarySet()

	var since *time.Time
	if !full {
		since = user.LastWatchSync
	}
	startedAt := time.Now()

	var entries []models.WatchHistoryEntry
	var fetched []string
	for _, lib := range libraries {
		if excluded[lib.ID] {
			continue
		}
		items, err := s.provider.GetWatchHistory(ctx, user.JellyfinUserID, lib.ID, since)
		if err != nil {
			return 0, 0, fmt.Errorf("fetch watch history (library %s): %w", lib.Name, err)
		}
		for _, it := range items {
			entries = append(entries, models.WatchHistoryEntry{
				UserID:       user.ID,
				ItemID:       it.ItemID,
				ItemType:     it.ItemType,
				PlayCount:    it.PlayCount,
				IsFavorite:   it.IsFavorite,
				LastPlayedAt: it.LastPlayedAt,
			})
			fetched = append(fetched, it.ItemID)
		}
	}

	entries = dedupHistory(entries)
	if err := s.store.UpsertWatchHistory(ctx, entries); err != nil {
		return 0, 0, fmt.Errorf("upsert watch history: %w", err)
	}

	if full {
		pruned, err = s.store.PruneWatchHistory(ctx, user.ID, fetched)
		if err != nil {
			return 0, 0, fmt.Errorf("prune watch history: %w", err)
		}
	}

	if err := s.store.SetLastWatchSync(ctx, user.ID, startedAt); err != nil {
		return 0, 0, fmt.Errorf("advance watch sync watermark: %w", err)
	}

	if len(entries) > 0 || pruned > 0 {
		log.Printf("[sync] watch history for %s: %d upserted, %d pruned", user.Name, len(entries), pruned)
	}
	return len(entries), pruned, nil
}

// dedupHistory keeps the last occurrence per item id. An episode can
// surface in more than one library view.
func dedupHistory(entries []models.WatchHistoryEntry) []models.WatchHistoryEntry {
	seen := make(map[string]int, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if i, ok := seen[e.ItemID]; ok {
			out[i] = e
			continue
		}
		seen[e.ItemID] = len(out)
		out = append(out, e)
	}
	return out
}
