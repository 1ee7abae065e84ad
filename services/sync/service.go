// Package sync reconciles the local mirror against the media server:
// catalog items, per-user watch history, and the enrichment pass. Each
// operation runs as a tracked background job.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediamirror/config"
	"mediamirror/internal/database"
	"mediamirror/models"
	"mediamirror/services/enrich"
	"mediamirror/services/jellyfin"
	"mediamirror/services/jobs"
)

// ErrSyncInProgress is returned when a job of the same kind is already
// running.
var ErrSyncInProgress = errors.New("a sync of this kind is already running")

// Store is the persistence surface the sync operations use.
type Store interface {
	LoadSeriesIdentifiers(ctx context.Context) (*database.Identifiers, error)
	LoadMovieIdentifiers(ctx context.Context) (*database.Identifiers, error)
	LoadEpisodeIdentifiers(ctx context.Context) (*database.Identifiers, error)

	InsertSeries(ctx context.Context, batch []models.Series) error
	UpdateSeriesByID(ctx context.Context, batch []models.Series) error
	RepointSeries(ctx context.Context, oldIDs []string, batch []models.Series) error
	InsertMovies(ctx context.Context, batch []models.Movie) error
	UpdateMoviesByID(ctx context.Context, batch []models.Movie) error
	RepointMovies(ctx context.Context, oldIDs []string, batch []models.Movie) error
	UpdateEpisodesByID(ctx context.Context, batch []models.Episode) error
	UpsertEpisodes(ctx context.Context, batch []models.Episode) error

	ImportUsers(ctx context.Context, users []models.User) error
	EnabledUsers(ctx context.Context) ([]models.User, error)
	SetLastWatchSync(ctx context.Context, userID string, at time.Time) error
	UpsertWatchHistory(ctx context.Context, entries []models.WatchHistoryEntry) error
	PruneWatchHistory(ctx context.Context, userID string, keepItemIDs []string) (int, error)
}

// Provider is the media server surface the sync operations use.
type Provider interface {
	Configured() bool
	GetLibraries(ctx context.Context) ([]jellyfin.Library, error)
	GetUsers(ctx context.Context) ([]jellyfin.ProviderUser, error)
	GetItemCount(ctx context.Context, libraryID, itemTypes string) (int, error)
	GetSeriesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Series, int, error)
	GetMoviesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Movie, int, error)
	GetEpisodesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Episode, int, error)
	GetWatchHistory(ctx context.Context, jellyfinUserID, libraryID string, since *time.Time) ([]jellyfin.WatchedItem, error)
}

// Enricher runs the enrichment pass under an existing job.
type Enricher interface {
	Run(ctx context.Context, jobID string) (*enrich.Result, error)
}

type Service struct {
	store    Store
	provider Provider
	tracker  *jobs.Service
	enricher Enricher
	config   *config.Manager

	mu     sync.Mutex
	active map[models.JobKind]bool
}

func NewService(store Store, provider Provider, tracker *jobs.Service, enricher Enricher, cfg *config.Manager) *Service {
	return &Service{
		store:    store,
		provider: provider,
		tracker:  tracker,
		enricher: enricher,
		config:   cfg,
		active:   make(map[models.JobKind]bool),
	}
}

func (s *Service) acquire(kind models.JobKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[kind] {
		return ErrSyncInProgress
	}
	s.active[kind] = true
	return nil
}

func (s *Service) release(kind models.JobKind) {
	s.mu.Lock()
	s.active[kind] = false
	s.mu.Unlock()
}

// StartLibrarySync launches a catalog sync job and returns its id. At
// most one job per kind runs at a time.
//
// The job runs on a context detached from the caller's: an HTTP
// request context is cancelled as soon as the 202 is written, and the
// job must outlive it. Cancellation goes through the tracker instead.
func (s *Service) StartLibrarySync(ctx context.Context) (string, error) {
	if err := s.acquire(models.JobKindLibrarySync); err != nil {
		return "", err
	}
	ctx = context.WithoutCancel(ctx)
	jobID := uuid.New().String()
	s.tracker.Create(jobID, models.JobKindLibrarySync, 3)
	go func() {
		defer s.release(models.JobKindLibrarySync)
		s.runLibrarySync(ctx, jobID)
	}()
	return jobID, nil
}

// StartEnrichment launches an enrichment job and returns its id.
func (s *Service) StartEnrichment(ctx context.Context) (string, error) {
	if err := s.acquire(models.JobKindEnrichment); err != nil {
		return "", err
	}
	ctx = context.WithoutCancel(ctx)
	jobID := uuid.New().String()
	s.tracker.Create(jobID, models.JobKindEnrichment, 2)
	go func() {
		defer s.release(models.JobKindEnrichment)
		s.runEnrichment(ctx, jobID)
	}()
	return jobID, nil
}

// StartWatchHistorySync launches a watch history job. full refetches
// every user's history and prunes rows the provider dropped; otherwise
// only items saved since each user's watermark are fetched.
func (s *Service) StartWatchHistorySync(ctx context.Context, full bool) (string, error) {
	if err := s.acquire(models.JobKindWatchHistorySync); err != nil {
		return "", err
	}
	ctx = context.WithoutCancel(ctx)
	jobID := uuid.New().String()
	s.tracker.Create(jobID, models.JobKindWatchHistorySync, 1)
	go func() {
		defer s.release(models.JobKindWatchHistorySync)
		s.runWatchHistorySync(ctx, jobID, full)
	}()
	return jobID, nil
}

// syncedLibraries returns the libraries to sync: movie and show
// libraries, filtered to the configured allow-list when one is set.
func syncedLibraries(all []jellyfin.Library, enabled []string) []jellyfin.Library {
	allow := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		allow[id] = true
	}
	var out []jellyfin.Library
	for _, lib := range all {
		if lib.CollectionType != "tvshows" && lib.CollectionType != "movies" {
			continue
		}
		if len(allow) > 0 && !allow[lib.ID] {
			continue
		}
		out = append(out, lib)
	}
	return out
}

func (s *Service) runLibrarySync(ctx context.Context, jobID string) {
	started := time.Now()
	log.Printf("[sync] library sync started (job %s)", jobID)

	settings, err := s.config.Load()
	if err != nil {
		s.tracker.Fail(jobID, fmt.Errorf("load config: %w", err))
		return
	}
	if !s.provider.Configured() {
		s.tracker.Fail(jobID, jellyfin.ErrNotConfigured)
		return
	}

	all, err := s.provider.GetLibraries(ctx)
	if err != nil {
		s.tracker.Fail(jobID, fmt.Errorf("list libraries: %w", err))
		return
	}
	libraries := syncedLibraries(all, settings.Jellyfin.EnabledLibraries)
	if len(libraries) == 0 {
		s.tracker.Fail(jobID, errors.New("no libraries to sync"))
		return
	}

	var result models.SyncResult
	finish := func() {
		result.DurationSeconds = int(time.Since(started).Seconds())
	}

	seriesIDs, err := s.store.LoadSeriesIdentifiers(ctx)
	if err != nil {
		s.tracker.Fail(jobID, err)
		return
	}
	movieIDs, err := s.store.LoadMovieIdentifiers(ctx)
	if err != nil {
		s.tracker.Fail(jobID, err)
		return
	}
	episodeIDs, err := s.store.LoadEpisodeIdentifiers(ctx)
	if err != nil {
		s.tracker.Fail(jobID, err)
		return
	}

	showLibs := filterLibraries(libraries, "tvshows")
	movieLibs := filterLibraries(libraries, "movies")

	// Series before episodes: episode rows reference series rows.
	seriesCounts, err := syncEntity(ctx, s, jobID, 0, "sync series", showLibs, "Series", settings.Sync,
		s.provider.GetSeriesPage,
		func(ctx context.Context, batch []models.Series) (counts, error) {
			return s.reconcileSeries(ctx, seriesIDs, batch)
		})
	if done := s.checkOutcome(jobID, err, &result, finish); done {
		return
	}
	result.SeriesAdded = seriesCounts.Inserted + seriesCounts.Repointed
	result.SeriesUpdated = seriesCounts.Updated

	movieCounts, err := syncEntity(ctx, s, jobID, 1, "sync movies", movieLibs, "Movie", settings.Sync,
		s.provider.GetMoviesPage,
		func(ctx context.Context, batch []models.Movie) (counts, error) {
			return s.reconcileMovies(ctx, movieIDs, batch)
		})
	if done := s.checkOutcome(jobID, err, &result, finish); done {
		return
	}
	result.MoviesAdded = movieCounts.Inserted + movieCounts.Repointed
	result.MoviesUpdated = movieCounts.Updated

	episodeCounts, err := syncEntity(ctx, s, jobID, 2, "sync episodes", showLibs, "Episode", settings.Sync,
		s.provider.GetEpisodesPage,
		func(ctx context.Context, batch []models.Episode) (counts, error) {
			return s.reconcileEpisodes(ctx, episodeIDs, seriesIDs, batch)
		})
	if done := s.checkOutcome(jobID, err, &result, finish); done {
		return
	}
	result.EpisodesSynced = episodeCounts.Inserted + episodeCounts.Updated + episodeCounts.Repointed

	finish()
	log.Printf("[sync] library sync complete in %ds: series +%d/~%d, movies +%d/~%d, episodes %d",
		result.DurationSeconds, result.SeriesAdded, result.SeriesUpdated,
		result.MoviesAdded, result.MoviesUpdated, result.EpisodesSynced)
	s.tracker.Complete(jobID, result)
}

// errCancelled propagates a tracker cancel request out of the batch loop.
var errCancelled = errors.New("cancelled")

// checkOutcome settles the job when err is non-nil. Returns true when
// the job reached a terminal state and the caller must stop.
func (s *Service) checkOutcome(jobID string, err error, result *models.SyncResult, finish func()) bool {
	if err == nil {
		return false
	}
	finish()
	if errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) {
		log.Printf("[sync] job %s cancelled", jobID)
		s.tracker.Cancelled(jobID, *result)
		return true
	}
	s.tracker.Fail(jobID, err)
	return true
}

func filterLibraries(libraries []jellyfin.Library, collectionType string) []jellyfin.Library {
	var out []jellyfin.Library
	for _, lib := range libraries {
		if lib.CollectionType == collectionType {
			out = append(out, lib)
		}
	}
	return out
}

// syncEntity runs one catalog step: count items across libraries, fetch
// each library's pages in parallel waves, and reconcile in store-sized
// batches. Cancellation is polled between batches; the batch in flight
// always completes so partial progress stays consistent.
func syncEntity[T any](
	ctx context.Context,
	s *Service,
	jobID string,
	step int,
	stepName string,
	libraries []jellyfin.Library,
	itemTypes string,
	cfg config.SyncSettings,
	fetchPage func(ctx context.Context, libraryID string, startIndex, limit int) ([]T, int, error),
	reconcile func(ctx context.Context, batch []T) (counts, error),
) (counts, error) {
	var total int
	libTotals := make([]int, len(libraries))
	for i, lib := range libraries {
		n, err := s.provider.GetItemCount(ctx, lib.ID, itemTypes)
		if err != nil {
			return counts{}, fmt.Errorf("count %s in %s: %w", itemTypes, lib.Name, err)
		}
		libTotals[i] = n
		total += n
	}
	s.tracker.SetStep(jobID, step, stepName, total)

	var acc counts
	processed := 0
	for i, lib := range libraries {
		if s.tracker.IsCancelled(jobID) {
			return acc, errCancelled
		}
		items, err := jellyfin.FetchAllPages(ctx, libTotals[i], cfg.PageSize, cfg.Parallelism,
			func(ctx context.Context, startIndex, limit int) ([]T, int, error) {
				return fetchPage(ctx, lib.ID, startIndex, limit)
			})
		if err != nil {
			return acc, fmt.Errorf("fetch %s from %s: %w", itemTypes, lib.Name, err)
		}

		for start := 0; start < len(items); start += cfg.BatchSize {
			if s.tracker.IsCancelled(jobID) {
				return acc, errCancelled
			}
			end := start + cfg.BatchSize
			if end > len(items) {
				end = len(items)
			}
			c, err := reconcile(ctx, items[start:end])
			if err != nil {
				return acc, err
			}
			acc.add(c)
			processed += end - start
			s.tracker.UpdateProgress(jobID, processed, total, lib.Name)
		}
	}
	return acc, nil
}

func (s *Service) runEnrichment(ctx context.Context, jobID string) {
	started := time.Now()
	log.Printf("[sync] enrichment started (job %s)", jobID)

	res, err := s.enricher.Run(ctx, jobID)
	if res == nil {
		res = &enrich.Result{}
	}
	result := models.SyncResult{
		ItemsEnriched:   res.SeriesEnriched + res.MoviesEnriched,
		ItemsUnmatched:  res.Unmatched,
		FailedBatches:   res.FailedBatches,
		DurationSeconds: int(time.Since(started).Seconds()),
	}
	switch {
	case errors.Is(err, enrich.ErrCancelled) || errors.Is(err, context.Canceled):
		s.tracker.Cancelled(jobID, result)
	case err != nil:
		s.tracker.Fail(jobID, err)
	default:
		s.tracker.Complete(jobID, result)
	}
}

func (s *Service) runWatchHistorySync(ctx context.Context, jobID string, full bool) {
	started := time.Now()
	mode := "delta"
	if full {
		mode = "full"
	}
	log.Printf("[sync] watch history sync started (job %s, %s)", jobID, mode)

	settings, err := s.config.Load()
	if err != nil {
		s.tracker.Fail(jobID, fmt.Errorf("load config: %w", err))
		return
	}
	if !s.provider.Configured() {
		s.tracker.Fail(jobID, jellyfin.ErrNotConfigured)
		return
	}

	// Import provider accounts first so new users show up, disabled,
	// without an admin having to sync twice.
	providerUsers, err := s.provider.GetUsers(ctx)
	if err != nil {
		s.tracker.Fail(jobID, fmt.Errorf("list provider users: %w", err))
		return
	}
	imported := make([]models.User, len(providerUsers))
	for i, pu := range providerUsers {
		imported[i] = models.User{JellyfinUserID: pu.ID, Name: pu.Name}
	}
	if err := s.store.ImportUsers(ctx, imported); err != nil {
		s.tracker.Fail(jobID, fmt.Errorf("import users: %w", err))
		return
	}

	users, err := s.store.EnabledUsers(ctx)
	if err != nil {
		s.tracker.Fail(jobID, err)
		return
	}
	all, err := s.provider.GetLibraries(ctx)
	if err != nil {
		s.tracker.Fail(jobID, fmt.Errorf("list libraries: %w", err))
		return
	}
	libraries := syncedLibraries(all, settings.Jellyfin.EnabledLibraries)

	s.tracker.SetStep(jobID, 0, "sync watch history", len(users))

	var result models.SyncResult
	for i, user := range users {
		if s.tracker.IsCancelled(jobID) {
			result.DurationSeconds = int(time.Since(started).Seconds())
			s.tracker.Cancelled(jobID, result)
			return
		}
		upserted, pruned, err := s.syncUserHistory(ctx, user, libraries, full)
		if err != nil {
			// One user's failure should not abandon the rest.
			s.tracker.AddLog(jobID, "error", fmt.Sprintf("user %s: %v", user.Name, err))
			log.Printf("[sync] watch history for %s failed: %v", user.Name, err)
			continue
		}
		result.UsersProcessed++
		result.HistorySynced += upserted
		result.HistoryRemoved += pruned
		s.tracker.UpdateProgress(jobID, i+1, len(users), user.Name)
	}

	result.DurationSeconds = int(time.Since(started).Seconds())
	log.Printf("[sync] watch history sync complete in %ds: %d users, %d entries, %d pruned",
		result.DurationSeconds, result.UsersProcessed, result.HistorySynced, result.HistoryRemoved)
	s.tracker.Complete(jobID, result)
}
