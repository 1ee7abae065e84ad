// Package enrich runs the MDBList enrichment pass over catalog items
// that carry an IMDB id but have never been enriched.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"mediamirror/models"
	"mediamirror/services/jobs"
	"mediamirror/services/mdblist"

	"mediamirror/internal/database"
)

// ErrCancelled is returned when the job tracker received a cancel
// request for the running job.
var ErrCancelled = errors.New("enrichment cancelled")

// Store is the persistence surface the enrichment pass needs.
type Store interface {
	PendingEnrichment(ctx context.Context, kind string, limit int) ([]database.EnrichmentTarget, error)
	CountPendingEnrichment(ctx context.Context, kind string) (int, error)
	ApplyEnrichment(ctx context.Context, kind string, updates []database.EnrichmentUpdate) error
	MarkEnrichmentProcessed(ctx context.Context, kind string, ids []string) error
}

// Client is the slice of the MDBList client the pass uses.
type Client interface {
	Configured() bool
	GetMediaBatch(ctx context.Context, mediaType string, imdbIDs []string) ([]mdblist.MediaInfo, error)
}

// Result summarizes one enrichment run.
type Result struct {
	SeriesEnriched int `json:"seriesEnriched"`
	MoviesEnriched int `json:"moviesEnriched"`
	Unmatched      int `json:"unmatched"`
	FailedBatches  int `json:"failedBatches"`
}

type Service struct {
	store   Store
	client  Client
	tracker *jobs.Service

	batchSize int
	// When true, items in a failed batch are stamped processed so the
	// next run does not hit the same failure again. When false the
	// batch stays pending and the current run moves to the next kind.
	markFailedProcessed bool
}

func NewService(store Store, client Client, tracker *jobs.Service, batchSize int, markFailedProcessed bool) *Service {
	if batchSize <= 0 || batchSize > mdblist.BatchMax {
		batchSize = mdblist.BatchMax
	}
	return &Service{
		store:               store,
		client:              client,
		tracker:             tracker,
		batchSize:           batchSize,
		markFailedProcessed: markFailedProcessed,
	}
}

// Run enriches all pending series and movies in batches. Cancellation
// is polled between batches, so an in-flight batch always finishes.
func (s *Service) Run(ctx context.Context, jobID string) (*Result, error) {
	if !s.client.Configured() {
		return nil, mdblist.ErrNotConfigured
	}

	result := &Result{}
	kinds := []struct {
		kind      string
		mediaType string
		step      int
		enriched  *int
	}{
		{"series", "show", 0, &result.SeriesEnriched},
		{"movie", "movie", 1, &result.MoviesEnriched},
	}

	for _, k := range kinds {
		total, err := s.store.CountPendingEnrichment(ctx, k.kind)
		if err != nil {
			return result, err
		}
		s.tracker.SetStep(jobID, k.step, fmt.Sprintf("enrich %s", k.kind), total)
		if total == 0 {
			continue
		}

		done := 0
		for {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if s.tracker.IsCancelled(jobID) {
				return result, ErrCancelled
			}

			targets, err := s.store.PendingEnrichment(ctx, k.kind, s.batchSize)
			if err != nil {
				return result, err
			}
			if len(targets) == 0 {
				break
			}

			enriched, unmatched, err := s.enrichBatch(ctx, k.kind, k.mediaType, targets)
			if err != nil {
				result.FailedBatches++
				s.tracker.AddLog(jobID, "error", fmt.Sprintf("%s batch failed: %v", k.kind, err))
				log.Printf("[enrich] %s batch failed: %v", k.kind, err)
				if !s.markFailedProcessed {
					// Leaving the batch pending would make this loop
					// re-fetch the same rows forever.
					break
				}
				ids := targetIDs(targets)
				if err := s.store.MarkEnrichmentProcessed(ctx, k.kind, ids); err != nil {
					return result, fmt.Errorf("mark failed batch processed: %w", err)
				}
				done += len(targets)
				s.tracker.UpdateProgress(jobID, done, total, "")
				continue
			}

			*k.enriched += enriched
			result.Unmatched += unmatched
			done += len(targets)
			s.tracker.UpdateProgress(jobID, done, total, "")
		}
	}

	log.Printf("[enrich] run complete: %d series, %d movies enriched, %d unmatched, %d failed batches",
		result.SeriesEnriched, result.MoviesEnriched, result.Unmatched, result.FailedBatches)
	return result, nil
}

// enrichBatch resolves one batch of targets. Items the provider knows
// get their payload applied; items absent from the response are still
// stamped processed so they are not re-requested every run.
func (s *Service) enrichBatch(ctx context.Context, kind, mediaType string, targets []database.EnrichmentTarget) (enriched, unmatched int, err error) {
	infos, err := s.client.GetMediaBatch(ctx, mediaType, targetIMDBIDs(targets))
	if err != nil {
		return 0, 0, err
	}
	if infos == nil {
		return 0, 0, errors.New("no usable response from provider")
	}

	byIMDB := make(map[string]mdblist.MediaInfo, len(infos))
	for _, info := range infos {
		byIMDB[info.IMDBID] = info
	}

	var updates []database.EnrichmentUpdate
	var misses []string
	for _, t := range targets {
		info, ok := byIMDB[t.IMDBID]
		if !ok {
			misses = append(misses, t.ID)
			continue
		}
		updates = append(updates, toUpdate(t.ID, info))
	}

	if err := s.store.ApplyEnrichment(ctx, kind, updates); err != nil {
		return 0, 0, err
	}
	if err := s.store.MarkEnrichmentProcessed(ctx, kind, misses); err != nil {
		return 0, 0, err
	}
	return len(updates), len(misses), nil
}

func toUpdate(id string, info mdblist.MediaInfo) database.EnrichmentUpdate {
	u := database.EnrichmentUpdate{ID: id}

	scores := &models.MDBListScores{}
	for _, r := range info.Ratings {
		if r.Value == nil {
			continue
		}
		switch strings.ToLower(r.Source) {
		case "imdb":
			scores.IMDB = r.Value
		case "metacritic":
			scores.Metacritic = r.Value
		case "tomatoes":
			scores.Tomatoes = r.Value
		case "popcorn", "audience":
			scores.Audience = r.Value
		case "trakt":
			scores.Trakt = r.Value
		}
	}
	u.Scores = scores

	for _, kw := range info.Keywords {
		if kw.Name != "" {
			u.Keywords = append(u.Keywords, kw.Name)
		}
	}
	for _, st := range info.Streams {
		u.StreamingProviders = append(u.StreamingProviders, models.StreamingProvider{
			ID:   st.ID,
			Name: st.Name,
		})
	}
	return u
}

func targetIDs(targets []database.EnrichmentTarget) []string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	return ids
}

func targetIMDBIDs(targets []database.EnrichmentTarget) []string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.IMDBID
	}
	return ids
}
