package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"mediamirror/models"
)

var ErrJobNotFound = errors.New("job not found")

// maxLogEntries bounds the per-job log buffer; older entries are dropped.
const maxLogEntries = 200

type trackedJob struct {
	job       models.Job
	cancelled bool
}

// Service tracks progress of long-running sync jobs in memory. All
// mutations are observational: the tracker records state, it never
// drives business logic. Cancellation is cooperative; RequestCancel
// only raises a flag that workers poll between batches.
type Service struct {
	mu        sync.RWMutex
	jobs      map[string]*trackedJob
	retention time.Duration

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService creates a job tracker. Terminal jobs are evicted after the
// given retention.
func NewService(retention time.Duration) *Service {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Service{
		jobs:      make(map[string]*trackedJob),
		retention: retention,
	}
}

// Start launches the background eviction loop.
func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictExpired()
			}
		}
	}()
}

// Stop halts the eviction loop.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
}

func (s *Service) evictExpired() {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.jobs {
		if t.job.Terminal() && t.job.FinishedAt != nil && t.job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// Create registers a new job in pending state.
func (s *Service) Create(jobID string, kind models.JobKind, totalSteps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &trackedJob{
		job: models.Job{
			ID:         jobID,
			Kind:       kind,
			Status:     models.JobStatusPending,
			TotalSteps: totalSteps,
			StartedAt:  time.Now().UTC(),
		},
	}
}

// SetStep advances the job to a named step and resets batch progress.
func (s *Service) SetStep(jobID string, index int, name string, totalUnits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.jobs[jobID]
	if !ok {
		return
	}
	t.job.Status = models.JobStatusRunning
	t.job.StepIndex = index
	t.job.StepName = name
	t.job.Processed = 0
	t.job.Total = totalUnits
	t.job.CurrentItem = ""
}

// UpdateProgress records processed/total counts for the current step.
func (s *Service) UpdateProgress(jobID string, done, total int, currentItem string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.jobs[jobID]
	if !ok {
		return
	}
	t.job.Processed = done
	t.job.Total = total
	if currentItem != "" {
		t.job.CurrentItem = currentItem
	}
}

// AddLog appends to the job's bounded log buffer.
func (s *Service) AddLog(jobID, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.jobs[jobID]
	if !ok {
		return
	}
	t.job.Logs = append(t.job.Logs, models.JobLogEntry{
		Time:    time.Now().UTC(),
		Level:   level,
		Message: message,
	})
	if n := len(t.job.Logs); n > maxLogEntries {
		t.job.Logs = t.job.Logs[n-maxLogEntries:]
	}
}

// RequestCancel flags the job for cooperative cancellation. The worker
// observes the flag between batches; in-flight calls always complete.
func (s *Service) RequestCancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if t.job.Terminal() {
		return nil
	}
	t.cancelled = true
	t.job.Logs = append(t.job.Logs, models.JobLogEntry{
		Time:    time.Now().UTC(),
		Level:   "warn",
		Message: "cancellation requested",
	})
	return nil
}

// IsCancelled reports whether cancellation has been requested.
func (s *Service) IsCancelled(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.jobs[jobID]
	return ok && t.cancelled
}

// Complete marks the job as successfully finished.
func (s *Service) Complete(jobID string, result any) {
	s.finish(jobID, models.JobStatusCompleted, result, "")
}

// Fail marks the job as failed with the given error.
func (s *Service) Fail(jobID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.finish(jobID, models.JobStatusFailed, nil, msg)
	log.Printf("[jobs] job %s failed: %s", jobID, msg)
}

// Cancelled marks the job as terminated by a cancellation request.
// Work committed before the cancellation point remains in the store.
func (s *Service) Cancelled(jobID string, result any) {
	s.finish(jobID, models.JobStatusCancelled, result, "")
}

func (s *Service) finish(jobID string, status models.JobStatus, result any, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	t.job.Status = status
	t.job.Result = result
	t.job.Error = errMsg
	t.job.FinishedAt = &now
}

// Get returns a snapshot of one job.
func (s *Service) Get(jobID string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.jobs[jobID]
	if !ok {
		return models.Job{}, ErrJobNotFound
	}
	return snapshot(t.job), nil
}

// List returns snapshots of all known jobs, newest first.
func (s *Service) List() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, t := range s.jobs {
		out = append(out, snapshot(t.job))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartedAt.After(out[i].StartedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// snapshot copies the log slice so readers never alias tracker memory.
func snapshot(j models.Job) models.Job {
	if len(j.Logs) > 0 {
		logs := make([]models.JobLogEntry, len(j.Logs))
		copy(logs, j.Logs)
		j.Logs = logs
	}
	return j
}
