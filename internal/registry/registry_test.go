// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	base := t.TempDir()
	path := filepath.Join(base, ".scheduler_state", "managed_pids.txt")
	r, err := New(path, nil)
	require.NoError(t, err)
	return r, base
}

func TestRegisterAndList(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("job_001", 1234))

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "job_001", list[0].JobID)
	assert.Equal(t, 1234, list[0].PID)
}

func TestRegisterPersistsAcrossReload(t *testing.T) {
	r, base := newTestRegistry(t)
	require.NoError(t, r.Register("job_001", 1234))
	require.NoError(t, r.Register("job_002", 5678))

	reloaded, err := New(filepath.Join(base, ".scheduler_state", "managed_pids.txt"), nil)
	require.NoError(t, err)
	assert.Len(t, reloaded.List(), 2)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("job_001", 1234))
	require.NoError(t, r.Unregister("job_001"))
	assert.Empty(t, r.List())
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	base := t.TempDir()
	s := store.New(
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

func TestReapOrphansMissingJobRecord(t *testing.T) {
	r, _ := newTestRegistry(t)
	s := newTestStore(t)
	require.NoError(t, r.Register("job_999", 99999999))

	result, err := r.Reap(s)
	require.NoError(t, err)
	require.Len(t, result.Reaped, 1)
	assert.Equal(t, "job_999", result.Reaped[0].JobID)
	assert.Empty(t, r.List())
}

func TestReapSkipsLiveRunningJob(t *testing.T) {
	r, _ := newTestRegistry(t)
	s := newTestStore(t)

	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	require.NoError(t, s.CreateJobDirExclusive("job_001"))
	require.NoError(t, s.WriteJob(&record.Job{JobID: "job_001", Status: record.StatusRunning, Unknown: map[string]string{}}))
	require.NoError(t, r.Register("job_001", cmd.Process.Pid))

	result, err := r.Reap(s)
	require.NoError(t, err)
	assert.Empty(t, result.Reaped)
	require.Len(t, result.Skipped, 1)
	assert.Len(t, r.List(), 1)
}

func TestReapOrphansTerminalJob(t *testing.T) {
	r, _ := newTestRegistry(t)
	s := newTestStore(t)

	exited := exec.Command("true")
	require.NoError(t, exited.Run())

	require.NoError(t, s.CreateJobDirExclusive("job_002"))
	require.NoError(t, s.WriteJob(&record.Job{JobID: "job_002", Status: record.StatusCompleted, Unknown: map[string]string{}}))
	require.NoError(t, r.Register("job_002", exited.Process.Pid))

	result, err := r.Reap(s)
	require.NoError(t, err)
	require.Len(t, result.Reaped, 1)
	assert.Equal(t, "job_002", result.Reaped[0].JobID)
}
