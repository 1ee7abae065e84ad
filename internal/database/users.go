package database

import (
	"context"
	"fmt"
	"time"

	"mediamirror/models"
)

// ImportUsers upserts media server accounts by their provider user id.
// Unknown accounts are created disabled; existing accounts only have
// their display name refreshed, never their enabled flag or exclusions.
func (db *DB) ImportUsers(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	jellyfinIDs := make([]string, 0, len(users))
	names := make([]string, 0, len(users))
	for _, u := range users {
		jellyfinIDs = append(jellyfinIDs, u.JellyfinUserID)
		names = append(names, u.Name)
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (jellyfin_user_id, name)
		SELECT t.jellyfin_user_id, t.name
		FROM unnest($1::text[], $2::text[]) AS t(jellyfin_user_id, name)
		ON CONFLICT (jellyfin_user_id) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = now()`,
		jellyfinIDs, names)
	if err != nil {
		return fmt.Errorf("import users: %w", err)
	}
	return nil
}

func scanUsers(ctx context.Context, db *DB, query string, args ...any) ([]models.User, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.JellyfinUserID, &u.Name, &u.IsEnabled,
			&u.ExcludedLibraries, &u.LastWatchSync, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const userColumns = `id, jellyfin_user_id, name, is_enabled, excluded_libraries, last_watch_sync, created_at, updated_at`

// ListUsers returns all local accounts.
func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := scanUsers(ctx, db, `SELECT `+userColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// EnabledUsers returns accounts participating in watch-history sync.
func (db *DB) EnabledUsers(ctx context.Context) ([]models.User, error) {
	users, err := scanUsers(ctx, db, `SELECT `+userColumns+` FROM users WHERE is_enabled ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("enabled users: %w", err)
	}
	return users, nil
}

// SetUserEnabled flips the sync participation flag.
func (db *DB) SetUserEnabled(ctx context.Context, userID string, enabled bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET is_enabled = $2, updated_at = now() WHERE id = $1`, userID, enabled)
	if err != nil {
		return fmt.Errorf("set user enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set user enabled: user %s not found", userID)
	}
	return nil
}

// SetExcludedLibraries replaces the user's excluded-library set.
func (db *DB) SetExcludedLibraries(ctx context.Context, userID string, libraryIDs []string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET excluded_libraries = $2, updated_at = now() WHERE id = $1`,
		userID, orEmpty(libraryIDs))
	if err != nil {
		return fmt.Errorf("set excluded libraries: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set excluded libraries: user %s not found", userID)
	}
	return nil
}

// SetLastWatchSync advances the user's delta-sync watermark.
func (db *DB) SetLastWatchSync(ctx context.Context, userID string, at time.Time) error {
	if _, err := db.pool.Exec(ctx,
		`UPDATE users SET last_watch_sync = $2, updated_at = now() WHERE id = $1`,
		userID, at.UTC()); err != nil {
		return fmt.Errorf("set last watch sync: %w", err)
	}
	return nil
}
