package models

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

type JobKind string

const (
	JobKindLibrarySync      JobKind = "library_sync"
	JobKindEnrichment       JobKind = "enrichment"
	JobKindWatchHistorySync JobKind = "watch_history_sync"
)

// JobLogEntry is one line in a job's bounded log buffer.
type JobLogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"` // info | warn | error
	Message string    `json:"message"`
}

// Job is a point-in-time snapshot of a long-running operation's
// progress. Snapshots are returned by value; observers never share
// memory with the tracker's internal state.
type Job struct {
	ID          string        `json:"id"`
	Kind        JobKind       `json:"kind"`
	Status      JobStatus     `json:"status"`
	StepIndex   int           `json:"stepIndex"`
	StepName    string        `json:"stepName"`
	TotalSteps  int           `json:"totalSteps"`
	Processed   int           `json:"processed"`
	Total       int           `json:"total"`
	CurrentItem string        `json:"currentItem,omitempty"`
	Logs        []JobLogEntry `json:"logs,omitempty"`
	Result      any           `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// SyncResult summarizes a completed sync operation.
type SyncResult struct {
	SeriesAdded     int `json:"seriesAdded"`
	SeriesUpdated   int `json:"seriesUpdated"`
	MoviesAdded     int `json:"moviesAdded"`
	MoviesUpdated   int `json:"moviesUpdated"`
	EpisodesSynced  int `json:"episodesSynced"`
	FailedBatches   int `json:"failedBatches,omitempty"`
	HistorySynced   int `json:"historySynced,omitempty"`
	HistoryRemoved  int `json:"historyRemoved,omitempty"`
	ItemsEnriched   int `json:"itemsEnriched,omitempty"`
	ItemsUnmatched  int `json:"itemsUnmatched,omitempty"`
	UsersProcessed  int `json:"usersProcessed,omitempty"`
	DurationSeconds int `json:"durationSeconds"`
}
