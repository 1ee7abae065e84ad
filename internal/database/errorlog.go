package database

import (
	"context"
	"fmt"
	"time"
)

// HasRecentSimilarError reports whether an error with the same source,
// kind, and status was logged inside the window. The enrichment client
// uses this to collapse repeated rate-limit noise into one record.
func (db *DB) HasRecentSimilarError(ctx context.Context, source, kind string, statusCode int, window time.Duration) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM api_errors
			WHERE source = $1 AND kind = $2 AND status_code = $3 AND created_at > $4
		)`, source, kind, statusCode, time.Now().Add(-window)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent error: %w", err)
	}
	return exists, nil
}

// LogAPIError records an operator-facing API error.
func (db *DB) LogAPIError(ctx context.Context, source, kind string, statusCode int, message string) error {
	if _, err := db.pool.Exec(ctx, `
		INSERT INTO api_errors (source, kind, status_code, message)
		VALUES ($1, $2, $3, $4)`, source, kind, statusCode, message); err != nil {
		return fmt.Errorf("log api error: %w", err)
	}
	return nil
}
