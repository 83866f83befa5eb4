// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jontk/wjm/internal/admission"
	"github.com/jontk/wjm/internal/lock"
	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/internal/resource"
	"github.com/jontk/wjm/internal/store"
	"github.com/jontk/wjm/internal/supervisor"
	"github.com/jontk/wjm/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T, maxConcurrent int) (*Processor, *store.Store) {
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

	m := lock.New(filepath.Join(base, ".scheduler_state", "locks"), nil)
	cfg := config.NewDefault()
	cfg.MaxConcurrentJobs = maxConcurrent
	cfg.MaxTotalWeight = 1000

	ac := admission.New(s, m, &resource.Probe{}, cfg)
	sup := supervisor.New(s, nil)

	return New(s, m, ac, sup, cfg, nil), s
}

func enqueue(t *testing.T, s *store.Store, id string, priority record.Priority, script string) {
	t.Helper()
	entry := &record.QueueEntry{
		JobID:      id,
		Weight:     1,
		GPUSpec:    record.NA,
		Priority:   priority,
		SubmitTime: time.Now(),
	}
	require.NoError(t, s.WriteQueueEntry(entry, script))
}

func TestDrainDispatchesQueuedJob(t *testing.T) {
	p, s := newTestProcessor(t, 2)
	enqueue(t, s, "job_001", record.PriorityNormal, "exit 0")

	require.NoError(t, p.Drain(context.Background()))

	assert.False(t, s.QueueEntryExists("job_001"))

	deadline := time.Now().Add(2 * time.Second)
	var job *record.Job
	for time.Now().Before(deadline) {
		j, err := s.ReadJob("job_001")
		if err == nil && j.Status.Terminal() {
			job = j
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, job)
	assert.Equal(t, record.StatusCompleted, job.Status)
}

func TestDrainRestoresQueuedDirectiveFields(t *testing.T) {
	p, s := newTestProcessor(t, 2)
	entry := &record.QueueEntry{
		JobID:             "job_001",
		Weight:            1,
		GPUSpec:           record.NA,
		CPUSpec:           "0-1",
		MemorySpec:        "512M",
		Priority:          record.PriorityNormal,
		SubmitTime:        time.Now(),
		User:              "alice",
		TimeoutRaw:        "5s",
		RetryMax:          2,
		RetryDelaySeconds: 1,
		RetryOn:           []int{3},
		PreHook:           "echo pre",
		PostHook:          "echo post",
		OnFail:            "echo fail",
		OnSuccess:         "echo ok",
		Project:           "proj-a",
		Group:             "group-a",
	}
	require.NoError(t, s.WriteQueueEntry(entry, "exit 0"))

	require.NoError(t, p.Drain(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	var job *record.Job
	for time.Now().Before(deadline) {
		j, err := s.ReadJob("job_001")
		if err == nil && j.Status.Terminal() {
			job = j
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, job)
	assert.Equal(t, "alice", job.User)
	assert.Equal(t, "0-1", job.CPUSpec)
	assert.Equal(t, "512M", job.MemorySpec)
	assert.Equal(t, "5s", job.TimeoutRaw)
	assert.Equal(t, 2, job.RetryMax)
	assert.Equal(t, []int{3}, job.RetryOn)
	assert.Equal(t, "echo pre", job.PreHook)
	assert.Equal(t, "echo post", job.PostHook)
	assert.Equal(t, "echo fail", job.OnFail)
	assert.Equal(t, "echo ok", job.OnSuccess)
	assert.Equal(t, "proj-a", job.Project)
	assert.Equal(t, "group-a", job.Group)
}

func TestDrainPrefersHigherPriority(t *testing.T) {
	p, s := newTestProcessor(t, 1)
	enqueue(t, s, "job_001", record.PriorityLow, "sleep 1")
	enqueue(t, s, "job_002", record.PriorityUrgent, "sleep 1")

	require.NoError(t, p.Drain(context.Background()))

	assert.False(t, s.QueueEntryExists("job_002"))
	assert.True(t, s.QueueEntryExists("job_001"))
}

func TestDrainBackfillsPastIneligibleHead(t *testing.T) {
	p, s := newTestProcessor(t, 5)
	require.NoError(t, s.CreateJobDirExclusive("job_000"))
	require.NoError(t, s.WriteJob(&record.Job{JobID: "job_000", Status: record.StatusRunning, Unknown: map[string]string{}}))

	enqueue(t, s, "job_001", record.PriorityNormal, "exit 0")
	entry := &record.QueueEntry{
		JobID:        "job_002",
		Weight:       1,
		GPUSpec:      record.NA,
		Priority:     record.PriorityHigh,
		Dependencies: []string{"job_999"},
		SubmitTime:   time.Now(),
	}
	require.NoError(t, s.WriteQueueEntry(entry, "exit 0"))

	require.NoError(t, p.Drain(context.Background()))

	assert.False(t, s.QueueEntryExists("job_001"))
	assert.True(t, s.QueueEntryExists("job_002"))
}

func TestDrainNoopOnEmptyQueue(t *testing.T) {
	p, _ := newTestProcessor(t, 2)
	assert.NoError(t, p.Drain(context.Background()))
}

func TestDrainTimesOutWhenSchedulerAlreadyHeld(t *testing.T) {
	p, s := newTestProcessor(t, 2)
	enqueue(t, s, "job_001", record.PriorityNormal, "exit 0")

	handle, err := p.locks.AcquireScheduler(context.Background(), time.Second)
	require.NoError(t, err)
	defer handle.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = p.Drain(ctx)
	assert.Error(t, err)
	assert.True(t, s.QueueEntryExists("job_001"))
}
