// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jontk/wjm/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s := New(
		filepath.Join(base, "jobs"),
		filepath.Join(base, "queue"),
		filepath.Join(base, "archive"),
		filepath.Join(base, "logs"),
		"jobXXX.log",
		nil,
	)
	require.NoError(t, s.EnsureLayout())
	return s
}

func TestCreateJobDirExclusiveRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateJobDirExclusive("job_001"))

	err := s.CreateJobDirExclusive("job_001")
	require.Error(t, err)
}

func TestWriteReadJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateJobDirExclusive("job_001"))

	j := &record.Job{JobID: "job_001", Status: record.StatusRunning, Weight: 10, Unknown: map[string]string{}}
	require.NoError(t, s.WriteJob(j))

	got, err := s.ReadJob("job_001")
	require.NoError(t, err)
	assert.Equal(t, record.StatusRunning, got.Status)
	assert.Equal(t, 10, got.Weight)
}

func TestReadJobMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadJob("job_999")
	require.Error(t, err)
}

func TestPIDLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateJobDirExclusive("job_001"))

	_, ok, err := s.ReadPID("job_001")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WritePID("job_001", 4242))
	pid, ok, err := s.ReadPID("job_001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4242, pid)

	require.NoError(t, s.RemovePID("job_001"))
	_, ok, err = s.ReadPID("job_001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListJobIDsSortsNumerically(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"job_010", "job_002", "job_100"} {
		require.NoError(t, s.CreateJobDirExclusive(id))
	}

	ids, err := s.ListJobIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"job_002", "job_010", "job_100"}, ids)
}

func TestMaxJobIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateJobDirExclusive("job_003"))
	require.NoError(t, s.CreateJobDirExclusive("job_017"))

	max, err := s.MaxJobIndex()
	require.NoError(t, err)
	assert.Equal(t, 17, max)
}

func TestLogPathSubstitutesXXX(t *testing.T) {
	s := newTestStore(t)
	got := s.LogPath("job_042")
	assert.Equal(t, filepath.Join(s.JobPath("job_042"), "job042.log"), got)
}

func TestListRunningFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateJobDirExclusive("job_001"))
	require.NoError(t, s.WriteJob(&record.Job{JobID: "job_001", Status: record.StatusRunning, Unknown: map[string]string{}}))
	require.NoError(t, s.CreateJobDirExclusive("job_002"))
	require.NoError(t, s.WriteJob(&record.Job{JobID: "job_002", Status: record.StatusCompleted, Unknown: map[string]string{}}))

	running, err := s.ListRunning()
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "job_001", running[0].JobID)
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateJobDirExclusive("job_001"))
	require.NoError(t, s.WriteJob(&record.Job{JobID: "job_001", Status: record.StatusQueued, Unknown: map[string]string{}}))

	entries, err := os.ReadDir(s.JobPath("job_001"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestRemoveJobDir(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateJobDirExclusive("job_001"))
	require.NoError(t, s.RemoveJobDir("job_001"))

	_, err := os.Stat(s.JobPath("job_001"))
	assert.True(t, os.IsNotExist(err))
}

func TestFormatJobID(t *testing.T) {
	assert.Equal(t, "job_001", FormatJobID(1))
	assert.Equal(t, "job_999", FormatJobID(999))
}
