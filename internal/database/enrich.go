package database

import (
	"context"
	"encoding/json"
	"fmt"

	"mediamirror/models"
)

// EnrichmentTarget is a catalog row still missing third-party metadata.
type EnrichmentTarget struct {
	ID     string
	IMDBID string
}

// EnrichmentUpdate carries the enrichment payload for one item.
type EnrichmentUpdate struct {
	ID                 string
	Scores             *models.MDBListScores
	Keywords           []string
	StreamingProviders []models.StreamingProvider
}

func enrichTable(kind string) (string, error) {
	switch kind {
	case "series":
		return "series", nil
	case "movie":
		return "movies", nil
	}
	return "", fmt.Errorf("unknown enrichment kind %q", kind)
}

// PendingEnrichment returns up to limit items of a kind that have an
// external id but were never enriched. kind is "series" or "movie".
func (db *DB) PendingEnrichment(ctx context.Context, kind string, limit int) ([]EnrichmentTarget, error) {
	table, err := enrichTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := db.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, imdb_id FROM %s
		WHERE mdblist_enriched_at IS NULL AND imdb_id <> ''
		ORDER BY id
		LIMIT $1`, table), limit)
	if err != nil {
		return nil, fmt.Errorf("pending enrichment (%s): %w", kind, err)
	}
	defer rows.Close()

	var targets []EnrichmentTarget
	for rows.Next() {
		var t EnrichmentTarget
		if err := rows.Scan(&t.ID, &t.IMDBID); err != nil {
			return nil, fmt.Errorf("scan enrichment target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// CountPendingEnrichment counts items of a kind still awaiting
// enrichment.
func (db *DB) CountPendingEnrichment(ctx context.Context, kind string) (int, error) {
	table, err := enrichTable(kind)
	if err != nil {
		return 0, err
	}
	var count int
	err = db.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE mdblist_enriched_at IS NULL AND imdb_id <> ''`, table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending enrichment (%s): %w", kind, err)
	}
	return count, nil
}

// ApplyEnrichment writes enrichment payloads and stamps
// mdblist_enriched_at in one set-based statement. Keyword arrays travel
// as JSON text per row, same as the catalog statements.
func (db *DB) ApplyEnrichment(ctx context.Context, kind string, updates []EnrichmentUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	table, err := enrichTable(kind)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(updates))
	scores := make([]string, 0, len(updates))
	keywords := make([]string, 0, len(updates))
	providers := make([]string, 0, len(updates))
	for _, u := range updates {
		s, err := json.Marshal(u.Scores)
		if err != nil {
			return fmt.Errorf("marshal scores for %s: %w", u.ID, err)
		}
		k, err := json.Marshal(orEmpty(u.Keywords))
		if err != nil {
			return fmt.Errorf("marshal keywords for %s: %w", u.ID, err)
		}
		p, err := json.Marshal(u.StreamingProviders)
		if err != nil {
			return fmt.Errorf("marshal providers for %s: %w", u.ID, err)
		}
		ids = append(ids, u.ID)
		scores = append(scores, string(s))
		keywords = append(keywords, string(k))
		providers = append(providers, string(p))
	}

	_, err = db.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s c SET
			mdblist_scores = NULLIF(t.scores, 'null')::jsonb,
			keywords = (SELECT coalesce(array_agg(k.value), '{}'::text[])
			              FROM jsonb_array_elements_text(t.keywords::jsonb) AS k(value)),
			streaming_providers = NULLIF(t.providers, 'null')::jsonb,
			mdblist_enriched_at = now(),
			updated_at = now()
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
		     AS t(id, scores, keywords, providers)
		WHERE c.id = t.id`, table),
		ids, scores, keywords, providers)
	if err != nil {
		return fmt.Errorf("apply enrichment (%s): %w", kind, err)
	}
	return nil
}

// MarkEnrichmentProcessed stamps items as enriched without a payload.
// Used for permanent no-match items and, by policy, for failed batches
// so a bad row can never stall every later run.
func (db *DB) MarkEnrichmentProcessed(ctx context.Context, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	table, err := enrichTable(kind)
	if err != nil {
		return err
	}
	if _, err := db.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET mdblist_enriched_at = now(), updated_at = now()
		WHERE id = ANY($1::text[])`, table), ids); err != nil {
		return fmt.Errorf("mark enrichment processed (%s): %w", kind, err)
	}
	return nil
}
