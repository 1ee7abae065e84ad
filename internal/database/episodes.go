package database

import (
	"context"
	"fmt"
	"time"

	"mediamirror/models"
)

type episodeCols struct {
	ids       []string
	seriesIDs []string
	names     []string
	seasons   []int32
	numbers   []int32
	overviews []string
	community []float64
	runtimes  []int32
	premieres []*time.Time
	posters   []string
}

func buildEpisodeCols(batch []models.Episode) episodeCols {
	var c episodeCols
	for _, e := range batch {
		c.ids = append(c.ids, e.ID)
		c.seriesIDs = append(c.seriesIDs, e.SeriesID)
		c.names = append(c.names, e.Name)
		c.seasons = append(c.seasons, int32(e.SeasonNumber))
		c.numbers = append(c.numbers, int32(e.EpisodeNumber))
		c.overviews = append(c.overviews, e.Overview)
		c.community = append(c.community, e.CommunityRating)
		c.runtimes = append(c.runtimes, int32(e.RuntimeMinutes))
		c.premieres = append(c.premieres, e.PremiereDate)
		c.posters = append(c.posters, e.PosterURL)
	}
	return c
}

const episodeUnnest = `unnest(
	$1::text[], $2::text[], $3::text[], $4::int[], $5::int[],
	$6::text[], $7::numeric[], $8::int[], $9::timestamptz[], $10::text[]
) AS t(id, series_id, name, season_number, episode_number,
       overview, community_rating, runtime_minutes, premiere_date, poster_url)`

func (c episodeCols) args() []any {
	return []any{
		c.ids, c.seriesIDs, c.names, c.seasons, c.numbers,
		c.overviews, c.community, c.runtimes, c.premieres, c.posters,
	}
}

// UpdateEpisodesByID refreshes episodes matched by provider id.
func (db *DB) UpdateEpisodesByID(ctx context.Context, batch []models.Episode) error {
	if len(batch) == 0 {
		return nil
	}
	c := buildEpisodeCols(batch)
	_, err := db.pool.Exec(ctx, `
		UPDATE episodes e SET
			series_id = t.series_id,
			name = t.name,
			season_number = t.season_number,
			episode_number = t.episode_number,
			overview = t.overview,
			community_rating = NULLIF(t.community_rating, 0),
			runtime_minutes = t.runtime_minutes,
			premiere_date = t.premiere_date,
			poster_url = t.poster_url,
			updated_at = now()
		FROM `+episodeUnnest+`
		WHERE e.id = t.id`, c.args()...)
	if err != nil {
		return fmt.Errorf("bulk update episodes: %w", err)
	}
	return nil
}

// UpsertEpisodes inserts episodes, folding natural-key matches into
// updates via the store's (series, season, episode) unique constraint.
// A conflict rewrites the row's provider id in place, so an episode
// re-identified by the server keeps a single row. Callers must have
// deduplicated the batch by natural key: the conflict clause cannot
// touch the same row twice in one statement.
func (db *DB) UpsertEpisodes(ctx context.Context, batch []models.Episode) error {
	if len(batch) == 0 {
		return nil
	}
	c := buildEpisodeCols(batch)
	_, err := db.pool.Exec(ctx, `
		INSERT INTO episodes (id, series_id, name, season_number, episode_number,
		                      overview, community_rating, runtime_minutes, premiere_date, poster_url)
		SELECT t.id, t.series_id, t.name, t.season_number, t.episode_number,
		       t.overview, NULLIF(t.community_rating, 0), t.runtime_minutes, t.premiere_date, t.poster_url
		FROM `+episodeUnnest+`
		ON CONFLICT (series_id, season_number, episode_number) DO UPDATE SET
			id = EXCLUDED.id,
			name = EXCLUDED.name,
			overview = EXCLUDED.overview,
			community_rating = EXCLUDED.community_rating,
			runtime_minutes = EXCLUDED.runtime_minutes,
			premiere_date = EXCLUDED.premiere_date,
			poster_url = EXCLUDED.poster_url,
			updated_at = now()`, c.args()...)
	if err != nil {
		return fmt.Errorf("bulk upsert episodes: %w", err)
	}
	return nil
}
