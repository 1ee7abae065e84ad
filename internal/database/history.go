package database

import (
	"context"
	"fmt"
	"time"

	"mediamirror/models"
)

// UpsertWatchHistory writes a batch of consumption entries for one user
// in a single set-based statement, keyed on (user, item).
func (db *DB) UpsertWatchHistory(ctx context.Context, entries []models.WatchHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	userIDs := make([]string, 0, len(entries))
	itemIDs := make([]string, 0, len(entries))
	itemTypes := make([]string, 0, len(entries))
	playCounts := make([]int32, 0, len(entries))
	favorites := make([]bool, 0, len(entries))
	lastPlayed := make([]*time.Time, 0, len(entries))
	for _, e := range entries {
		userIDs = append(userIDs, e.UserID)
		itemIDs = append(itemIDs, e.ItemID)
		itemTypes = append(itemTypes, e.ItemType)
		playCounts = append(playCounts, int32(e.PlayCount))
		favorites = append(favorites, e.IsFavorite)
		lastPlayed = append(lastPlayed, e.LastPlayedAt)
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO watch_history (user_id, item_id, item_type, play_count, is_favorite, last_played_at)
		SELECT t.user_id::uuid, t.item_id, t.item_type, t.play_count, t.is_favorite, t.last_played_at
		FROM unnest($1::text[], $2::text[], $3::text[], $4::int[], $5::bool[], $6::timestamptz[])
		     AS t(user_id, item_id, item_type, play_count, is_favorite, last_played_at)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			play_count = EXCLUDED.play_count,
			is_favorite = EXCLUDED.is_favorite,
			last_played_at = EXCLUDED.last_played_at,
			updated_at = now()`,
		userIDs, itemIDs, itemTypes, playCounts, favorites, lastPlayed)
	if err != nil {
		return fmt.Errorf("upsert watch history: %w", err)
	}
	return nil
}

// PruneWatchHistory deletes the user's entries not present in the
// current provider snapshot. Only full syncs call this; delta syncs are
// additive and never shrink history.
func (db *DB) PruneWatchHistory(ctx context.Context, userID string, keepItemIDs []string) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM watch_history WHERE user_id = $1 AND NOT (item_id = ANY($2::text[]))`,
		userID, orEmpty(keepItemIDs))
	if err != nil {
		return 0, fmt.Errorf("prune watch history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// WatchHistoryForUser returns all recorded entries for a user.
func (db *DB) WatchHistoryForUser(ctx context.Context, userID string) ([]models.WatchHistoryEntry, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT user_id, item_id, item_type, play_count, is_favorite, last_played_at
		FROM watch_history WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("watch history for user: %w", err)
	}
	defer rows.Close()

	var entries []models.WatchHistoryEntry
	for rows.Next() {
		var e models.WatchHistoryEntry
		if err := rows.Scan(&e.UserID, &e.ItemID, &e.ItemType, &e.PlayCount, &e.IsFavorite, &e.LastPlayedAt); err != nil {
			return nil, fmt.Errorf("scan watch history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
