package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediamirror/config"
	"mediamirror/models"
	"mediamirror/services/jellyfin"
	"mediamirror/services/jobs"
	syncsvc "mediamirror/services/sync"
)

// gateProvider optionally blocks GetLibraries so a test can hold a job
// in flight. With no libraries the job fails before touching the store,
// so the store seam can stay nil.
type gateProvider struct {
	gate chan struct{}
	libs []jellyfin.Library
}

func (p *gateProvider) Configured() bool { return true }
func (p *gateProvider) GetLibraries(ctx context.Context) ([]jellyfin.Library, error) {
	if p.gate != nil {
		<-p.gate
	}
	return p.libs, nil
}
func (p *gateProvider) GetUsers(ctx context.Context) ([]jellyfin.ProviderUser, error) {
	return nil, nil
}
func (p *gateProvider) GetItemCount(ctx context.Context, libraryID, itemTypes string) (int, error) {
	return 0, nil
}
func (p *gateProvider) GetSeriesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Series, int, error) {
	return nil, 0, nil
}
func (p *gateProvider) GetMoviesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Movie, int, error) {
	return nil, 0, nil
}
func (p *gateProvider) GetEpisodesPage(ctx context.Context, libraryID string, startIndex, limit int) ([]models.Episode, int, error) {
	return nil, 0, nil
}
func (p *gateProvider) GetWatchHistory(ctx context.Context, jellyfinUserID, libraryID string, since *time.Time) ([]jellyfin.WatchedItem, error) {
	return nil, nil
}

func newSchedulerFixture(t *testing.T, provider syncsvc.Provider) (*Service, *config.Manager, config.ScheduledTask) {
	t.Helper()

	task := config.ScheduledTask{
		ID:        "task1",
		Name:      "library sync",
		Type:      config.ScheduledTaskTypeLibrarySync,
		Frequency: config.ScheduledTaskFrequencyDaily,
		// Left disabled so the background loop never races the test's
		// direct executeTask calls.
		Enabled: false,
	}

	cfg := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	settings, err := cfg.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	settings.ScheduledTasks.Tasks = append(settings.ScheduledTasks.Tasks, task)
	if err := cfg.Save(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	tracker := jobs.NewService(time.Hour)
	svc := syncsvc.NewService(nil, provider, tracker, nil, cfg)
	sched := NewService(cfg, svc, tracker)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	return sched, cfg, task
}

func loadTask(t *testing.T, cfg *config.Manager, taskID string) config.ScheduledTask {
	t.Helper()
	settings, err := cfg.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	for _, task := range settings.ScheduledTasks.Tasks {
		if task.ID == taskID {
			return task
		}
	}
	t.Fatalf("task %s not found in settings", taskID)
	return config.ScheduledTask{}
}

func TestExecuteTaskRecordsFailure(t *testing.T) {
	// No libraries: the job it starts fails, and the task record must
	// say so.
	sched, cfg, task := newSchedulerFixture(t, &gateProvider{})

	sched.executeTask(task)

	got := loadTask(t, cfg, task.ID)
	if got.LastStatus != config.ScheduledTaskStatusError {
		t.Fatalf("LastStatus = %s, want error", got.LastStatus)
	}
	if !strings.Contains(got.LastError, "no libraries") {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.LastRunAt == nil {
		t.Error("LastRunAt not recorded")
	}
	if got.LastJobID == "" {
		t.Error("LastJobID not recorded")
	}
}

func TestExecuteTaskSkipsWhenSyncInProgress(t *testing.T) {
	gate := make(chan struct{})
	provider := &gateProvider{gate: gate}
	sched, cfg, task := newSchedulerFixture(t, provider)

	// A manual run holds the job kind.
	jobID, err := sched.syncService.StartLibrarySync(context.Background())
	if err != nil {
		t.Fatalf("StartLibrarySync failed: %v", err)
	}

	sched.executeTask(task)

	// The skip leaves the task record untouched for the next interval.
	got := loadTask(t, cfg, task.ID)
	if got.LastRunAt != nil {
		t.Errorf("LastRunAt = %v, want unset after a skip", got.LastRunAt)
	}
	if got.LastStatus != "" && got.LastStatus != config.ScheduledTaskStatusPending {
		t.Errorf("LastStatus = %s, want untouched", got.LastStatus)
	}
	if sched.IsTaskRunning(task.ID) {
		t.Error("task still marked running after the skip")
	}

	close(gate)

	// Drain: the held job fails on the empty library list.
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := sched.tracker.Get(jobID)
		if err == nil && job.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("held job never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
