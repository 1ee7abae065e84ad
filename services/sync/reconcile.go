package sync

import (
	"context"
	"fmt"
	"log"

	"mediamirror/internal/database"
	"mediamirror/models"
)

// Ratings are stored as NUMERIC(6,2); anything outside this range is
// provider garbage and gets clamped.
const maxRating = 999.99

func clampRating(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > maxRating {
		return maxRating
	}
	return r
}

// counts accumulates reconciliation outcomes for one entity type.
type counts struct {
	Inserted  int
	Updated   int
	Repointed int
	Skipped   int
}

func (c *counts) add(o counts) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Repointed += o.Repointed
	c.Skipped += o.Skipped
}

// reconcileSeries partitions one fetched batch against the known
// identity set and runs the matching set-based statement per bucket:
// known id -> update, natural-key match -> repoint the existing row's
// primary key, neither -> insert. The identity set is updated as rows
// land so later batches in the same run resolve against fresh state.
func (s *Service) reconcileSeries(ctx context.Context, ids *database.Identifiers, batch []models.Series) (counts, error) {
	var c counts
	var inserts, updates, repoints []models.Series
	var oldIDs []string

	for _, item := range dedupSeries(batch) {
		item.CommunityRating = clampRating(item.CommunityRating)
		key := item.NaturalKey()
		switch {
		case ids.Known(item.ID):
			updates = append(updates, item)
		case ids.Natural[key] != "":
			oldID := ids.Natural[key]
			oldIDs = append(oldIDs, oldID)
			repoints = append(repoints, item)
			ids.Repoint(oldID, item.ID, key)
		default:
			inserts = append(inserts, item)
			ids.Register(item.ID, key)
		}
	}

	if err := s.store.UpdateSeriesByID(ctx, updates); err != nil {
		return c, fmt.Errorf("update series: %w", err)
	}
	if err := s.store.RepointSeries(ctx, oldIDs, repoints); err != nil {
		return c, fmt.Errorf("repoint series: %w", err)
	}
	if err := s.store.InsertSeries(ctx, inserts); err != nil {
		return c, fmt.Errorf("insert series: %w", err)
	}
	c.Inserted = len(inserts)
	c.Updated = len(updates)
	c.Repointed = len(repoints)
	return c, nil
}

func (s *Service) reconcileMovies(ctx context.Context, ids *database.Identifiers, batch []models.Movie) (counts, error) {
	var c counts
	var inserts, updates, repoints []models.Movie
	var oldIDs []string

	for _, item := range dedupMovies(batch) {
		item.CommunityRating = clampRating(item.CommunityRating)
		key := item.NaturalKey()
		switch {
		case ids.Known(item.ID):
			updates = append(updates, item)
		case ids.Natural[key] != "":
			oldID := ids.Natural[key]
			oldIDs = append(oldIDs, oldID)
			repoints = append(repoints, item)
			ids.Repoint(oldID, item.ID, key)
		default:
			inserts = append(inserts, item)
			ids.Register(item.ID, key)
		}
	}

	if err := s.store.UpdateMoviesByID(ctx, updates); err != nil {
		return c, fmt.Errorf("update movies: %w", err)
	}
	if err := s.store.RepointMovies(ctx, oldIDs, repoints); err != nil {
		return c, fmt.Errorf("repoint movies: %w", err)
	}
	if err := s.store.InsertMovies(ctx, inserts); err != nil {
		return c, fmt.Errorf("insert movies: %w", err)
	}
	c.Inserted = len(inserts)
	c.Updated = len(updates)
	c.Repointed = len(repoints)
	return c, nil
}

// reconcileEpisodes splits a batch into id-known updates and everything
// else, which goes through the positional upsert. Episodes whose series
// is not in the store are skipped; they would violate the foreign key.
// seriesIDs is the post-reconciliation series identity set.
func (s *Service) reconcileEpisodes(ctx context.Context, ids, seriesIDs *database.Identifiers, batch []models.Episode) (counts, error) {
	var c counts
	var updates, upserts []models.Episode

	for _, ep := range dedupEpisodes(batch) {
		ep.CommunityRating = clampRating(ep.CommunityRating)
		if !seriesIDs.Known(ep.SeriesID) {
			c.Skipped++
			continue
		}
		if ids.Known(ep.ID) {
			updates = append(updates, ep)
			continue
		}
		key := ep.NaturalKey()
		if ids.Natural[key] != "" {
			// Same position, new provider id. The upsert's conflict
			// clause rewrites the id in place.
			ids.Repoint(ids.Natural[key], ep.ID, key)
			c.Repointed++
		} else {
			ids.Register(ep.ID, key)
			c.Inserted++
		}
		upserts = append(upserts, ep)
	}

	if err := s.store.UpdateEpisodesByID(ctx, updates); err != nil {
		return c, fmt.Errorf("update episodes: %w", err)
	}
	if err := s.store.UpsertEpisodes(ctx, upserts); err != nil {
		return c, fmt.Errorf("upsert episodes: %w", err)
	}
	c.Updated = len(updates)
	if c.Skipped > 0 {
		log.Printf("[sync] skipped %d episodes with unknown series", c.Skipped)
	}
	return c, nil
}

// dedupSeries keeps the last occurrence per provider id so a single
// statement never touches the same row twice.
func dedupSeries(batch []models.Series) []models.Series {
	seen := make(map[string]int, len(batch))
	out := batch[:0:0]
	for _, item := range batch {
		if i, ok := seen[item.ID]; ok {
			out[i] = item
			continue
		}
		seen[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

func dedupMovies(batch []models.Movie) []models.Movie {
	seen := make(map[string]int, len(batch))
	out := batch[:0:0]
	for _, item := range batch {
		if i, ok := seen[item.ID]; ok {
			out[i] = item
			continue
		}
		seen[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

// dedupEpisodes keeps the last occurrence per (series, season, episode)
// position. The upsert conflicts on that key, and ON CONFLICT cannot
// update the same row twice in one statement.
func dedupEpisodes(batch []models.Episode) []models.Episode {
	seen := make(map[string]int, len(batch))
	out := batch[:0:0]
	for _, ep := range batch {
		key := ep.NaturalKey()
		if i, ok := seen[key]; ok {
			out[i] = ep
			continue
		}
		seen[key] = len(out)
		out = append(out, ep)
	}
	return out
}
