package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mediamirror/config"
	"mediamirror/internal/database"
	"mediamirror/models"
	"mediamirror/services/jellyfin"
	"mediamirror/services/jobs"
	syncsvc "mediamirror/services/sync"
)

// ctxProvider honors context cancellation on every call, the way the
// real client does through its HTTP requests.
type ctxProvider struct{}

func (ctxProvider) Configured() bool { return true }
func (ctxProvider) GetLibraries(ctx context.Context) ([]jellyfin.Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []jellyfin.Library{{ID: "lib", Name: "Shows", CollectionType: "tvshows"}}, nil
}
func (ctxProvider) GetUsers(ctx context.Context) ([]jellyfin.ProviderUser, error) {
	return nil, ctx.Err()
}
func (ctxProvider) GetItemCount(ctx context.Context, libraryID, itemTypes string) (int, error) {
	return 0, ctx.Err()
}
func (ctxProvider) GetSeriesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Series, int, error) {
	return nil, 0, ctx.Err()
}
func (ctxProvider) GetMoviesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Movie, int, error) {
	return nil, 0, ctx.Err()
}
func (ctxProvider) GetEpisodesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Episode, int, error) {
	return nil, 0, ctx.Err()
}
func (ctxProvider) GetWatchHistory(ctx context.Context, jellyfinUserID, libraryID string, since *time.Time) ([]jellyfin.WatchedItem, error) {
	return nil, ctx.Err()
}

type ctxStore struct{}

func (ctxStore) LoadSeriesIdentifiers(ctx context.Context) (*database.Identifiers, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return database.NewIdentifiers(), nil
}
func (ctxStore) LoadMovieIdentifiers(ctx context.Context) (*database.Identifiers, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return database.NewIdentifiers(), nil
}
func (ctxStore) LoadEpisodeIdentifiers(ctx context.Context) (*database.Identifiers, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return database.NewIdentifiers(), nil
}
func (ctxStore) InsertSeries(ctx context.Context, batch []models.Series) error { return ctx.Err() }
func (ctxStore) UpdateSeriesByID(ctx context.Context, batch []models.Series) error {
	return ctx.Err()
}
func (ctxStore) RepointSeries(ctx context.Context, oldIDs []string, batch []models.Series) error {
	return ctx.Err()
}
func (ctxStore) InsertMovies(ctx context.Context, batch []models.Movie) error { return ctx.Err() }
func (ctxStore) UpdateMoviesByID(ctx context.Context, batch []models.Movie) error {
	return ctx.Err()
}
func (ctxStore) RepointMovies(ctx context.Context, oldIDs []string, batch []models.Movie) error {
	return ctx.Err()
}
func (ctxStore) UpdateEpisodesByID(ctx context.Context, batch []models.Episode) error {
	return ctx.Err()
}
func (ctxStore) UpsertEpisodes(ctx context.Context, batch []models.Episode) error { return ctx.Err() }
func (ctxStore) ImportUsers(ctx context.Context, users []models.User) error       { return ctx.Err() }
func (ctxStore) EnabledUsers(ctx context.Context) ([]models.User, error)          { return nil, ctx.Err() }
func (ctxStore) SetLastWatchSync(ctx context.Context, userID string, at time.Time) error {
	return ctx.Err()
}
func (ctxStore) UpsertWatchHistory(ctx context.Context, entries []models.WatchHistoryEntry) error {
	return ctx.Err()
}
func (ctxStore) PruneWatchHistory(ctx context.Context, userID string, keepItemIDs []string) (int, error) {
	return 0, ctx.Err()
}

func awaitTerminal(t *testing.T, tracker *jobs.Service, jobID string) models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := tracker.Get(jobID)
		if err == nil && job.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return models.Job{}
}

// A triggered job must outlive the request that started it: the server
// cancels the request context as soon as the handler writes its 202.
func TestTriggeredJobOutlivesRequest(t *testing.T) {
	cfg := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	if _, err := cfg.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	tracker := jobs.NewService(time.Hour)
	svc := syncsvc.NewService(ctxStore{}, ctxProvider{}, tracker, nil, cfg)
	h := NewSyncHandler(svc, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/sync/library", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.StartLibrarySync(rec, req)
	cancel()

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("no job id in response")
	}

	job := awaitTerminal(t, tracker, resp.JobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (error %q), want completed after the request context died", job.Status, job.Error)
	}
}

func TestTriggeredWatchHistoryJobOutlivesRequest(t *testing.T) {
	cfg := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	if _, err := cfg.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	tracker := jobs.NewService(time.Hour)
	svc := syncsvc.NewService(ctxStore{}, ctxProvider{}, tracker, nil, cfg)
	h := NewSyncHandler(svc, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/sync/watch-history?full=1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.StartWatchHistorySync(rec, req)
	cancel()

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	job := awaitTerminal(t, tracker, resp.JobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (error %q), want completed after the request context died", job.Status, job.Error)
	}
}
