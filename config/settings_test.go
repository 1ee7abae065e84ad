package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	m := NewManager(path)

	s, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, 8686, s.Server.Port)
	assert.Equal(t, 1000, s.Sync.PageSize)
	assert.Equal(t, 200, s.MDBList.BatchSize)
	assert.True(t, s.Sync.MarkFailedBatchesProcessed)

	// First load persists the defaults for the next process.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "settings.json"))

	s, err := m.Load()
	require.NoError(t, err)

	s.Jellyfin.URL = "http://jellyfin.local:8096"
	s.Jellyfin.APIKey = "abc"
	s.Jellyfin.EnabledLibraries = []string{"lib1"}
	s.MDBList.Enabled = true
	s.ScheduledTasks.Tasks = append(s.ScheduledTasks.Tasks, ScheduledTask{
		ID:        "t1",
		Name:      "nightly sync",
		Type:      ScheduledTaskTypeLibrarySync,
		Frequency: ScheduledTaskFrequencyDaily,
		Enabled:   true,
	})
	require.NoError(t, m.Save(s))

	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestLoadBackfillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	// A config written by an older version with most sections absent.
	require.NoError(t, os.WriteFile(path, []byte(`{"jellyfin": {"url": "http://jf:8096", "apiKey": "k"}}`), 0o644))

	s, err := NewManager(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "http://jf:8096", s.Jellyfin.URL)
	assert.Equal(t, 1000, s.Sync.PageSize)
	assert.Equal(t, 4, s.Sync.Parallelism)
	assert.Equal(t, 500, s.Sync.BatchSize)
	assert.Equal(t, 60, s.Sync.JobRetentionMinutes)
	assert.Equal(t, 8, s.Database.MaxConns)
	assert.Equal(t, 15, s.MDBList.TierRefreshMinutes)
	assert.Equal(t, 60, s.ScheduledTasks.CheckIntervalSeconds)
	assert.NotEmpty(t, s.Log.File)
}

func TestLoadClampsOversizedBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mdblist": {"batchSize": 5000}}`), 0o644))

	s, err := NewManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 200, s.MDBList.BatchSize)
}
