// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jontk/wjm/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu   sync.Mutex
	jobs []*record.Job
}

func (f *fakeSource) list(ctx context.Context) ([]*record.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*record.Job, len(f.jobs))
	copy(out, f.jobs)
	return out, nil
}

func (f *fakeSource) set(jobs []*record.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = jobs
}

func drain(t *testing.T, ch <-chan JobEvent, n int, timeout time.Duration) []JobEvent {
	t.Helper()
	var events []JobEvent
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(events))
		}
	}
	return events
}

func TestWatchReportsStateChange(t *testing.T) {
	src := &fakeSource{jobs: []*record.Job{{JobID: "job_001", Status: record.StatusRunning}}}
	p := NewPoller(src.list).WithPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Watch(ctx, Options{})

	time.Sleep(20 * time.Millisecond)
	src.set([]*record.Job{{JobID: "job_001", Status: record.StatusCompleted}})

	events := drain(t, ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventStateChange, events[0].EventType)
	assert.Equal(t, record.StatusRunning, events[0].PreviousState)
	assert.Equal(t, record.StatusCompleted, events[0].NewState)
}

func TestWatchReportsNewJob(t *testing.T) {
	src := &fakeSource{}
	p := NewPoller(src.list).WithPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Watch(ctx, Options{})

	time.Sleep(20 * time.Millisecond)
	src.set([]*record.Job{{JobID: "job_001", Status: record.StatusQueued}})

	events := drain(t, ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventNew, events[0].EventType)
	assert.Equal(t, "job_001", events[0].JobID)
}

func TestWatchReportsCompletion(t *testing.T) {
	src := &fakeSource{jobs: []*record.Job{{JobID: "job_001", Status: record.StatusRunning}}}
	p := NewPoller(src.list).WithPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Watch(ctx, Options{})

	time.Sleep(20 * time.Millisecond)
	src.set(nil)

	events := drain(t, ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompleted, events[0].EventType)
}

func TestWatchFiltersByJobID(t *testing.T) {
	src := &fakeSource{jobs: []*record.Job{
		{JobID: "job_001", Status: record.StatusRunning},
		{JobID: "job_002", Status: record.StatusRunning},
	}}
	p := NewPoller(src.list).WithPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Watch(ctx, Options{JobIDs: []string{"job_001"}})

	time.Sleep(20 * time.Millisecond)
	src.set([]*record.Job{
		{JobID: "job_001", Status: record.StatusCompleted},
		{JobID: "job_002", Status: record.StatusCompleted},
	})

	events := drain(t, ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, "job_001", events[0].JobID)
}

func TestWatchClosesChannelOnCancel(t *testing.T) {
	src := &fakeSource{}
	p := NewPoller(src.list).WithPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Watch(ctx, Options{})
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// drain any buffered initial-poll events before the close
			for range ch {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}
}
