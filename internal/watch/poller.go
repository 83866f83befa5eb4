// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch implements the Watch Poller backing the status/list/watch
// CLI verbs: a ticker-driven loop over the job store that emits state-
// change events, adapted from the same polling shape used for remote
// resource watching, here driven against ListFunc instead of a remote API.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/jontk/wjm/internal/record"
)

// DefaultPollInterval is the default interval between store scans.
const DefaultPollInterval = 2 * time.Second

// EventType names the kind of change a JobEvent reports.
type EventType string

const (
	EventNew          EventType = "job_new"
	EventStateChange  EventType = "job_state_change"
	EventCompleted    EventType = "job_completed"
)

// JobEvent reports one observed change for a single job.
type JobEvent struct {
	EventType     EventType
	JobID         string
	PreviousState record.Status
	NewState      record.Status
	EventTime     time.Time
	Job           *record.Job
}

// ListFunc returns the current set of jobs to track; it's the Store's
// ListJobs (or a filtered view for a specific Watch target) rather than a
// remote API call.
type ListFunc func(ctx context.Context) ([]*record.Job, error)

// Options narrows which jobs a Poller reports events for.
type Options struct {
	JobIDs           []string // empty means all jobs
	ExcludeNew       bool
	ExcludeCompleted bool
}

// Poller implements job state-change watching through periodic store scans,
// used instead of a push-based notification mechanism since this system has
// no daemon to push from.
type Poller struct {
	listFunc     ListFunc
	pollInterval time.Duration
	bufferSize   int

	mu        sync.RWMutex
	jobStates map[string]record.Status
}

// NewPoller builds a Poller over listFunc.
func NewPoller(listFunc ListFunc) *Poller {
	return &Poller{
		listFunc:     listFunc,
		pollInterval: DefaultPollInterval,
		bufferSize:   64,
		jobStates:    map[string]record.Status{},
	}
}

// WithPollInterval overrides the default poll interval.
func (p *Poller) WithPollInterval(d time.Duration) *Poller {
	p.pollInterval = d
	return p
}

// WithBufferSize overrides the event channel's buffer size.
func (p *Poller) WithBufferSize(n int) *Poller {
	p.bufferSize = n
	return p
}

// Watch starts polling and returns a channel of events; the channel closes
// when ctx is canceled.
func (p *Poller) Watch(ctx context.Context, opts Options) <-chan JobEvent {
	eventChan := make(chan JobEvent, p.bufferSize)
	go p.pollLoop(ctx, opts, eventChan)
	return eventChan
}

func (p *Poller) pollLoop(ctx context.Context, opts Options, eventChan chan<- JobEvent) {
	defer close(eventChan)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.performPoll(ctx, opts, eventChan, true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.performPoll(ctx, opts, eventChan, false)
		}
	}
}

func (p *Poller) performPoll(ctx context.Context, opts Options, eventChan chan<- JobEvent, isInitial bool) {
	jobs, err := p.listFunc(ctx)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := map[string]bool{}

	for _, job := range jobs {
		job := job
		if len(opts.JobIDs) > 0 && !containsID(opts.JobIDs, job.JobID) {
			continue
		}
		current[job.JobID] = true

		prev, seen := p.jobStates[job.JobID]
		switch {
		case !seen:
			p.jobStates[job.JobID] = job.Status
			if !isInitial && !opts.ExcludeNew {
				eventChan <- JobEvent{EventType: EventNew, JobID: job.JobID, NewState: job.Status, EventTime: now(), Job: job}
			}
		case prev != job.Status:
			p.jobStates[job.JobID] = job.Status
			eventChan <- JobEvent{EventType: EventStateChange, JobID: job.JobID, PreviousState: prev, NewState: job.Status, EventTime: now(), Job: job}
		}
	}

	if opts.ExcludeCompleted {
		return
	}
	for id, state := range p.jobStates {
		if current[id] {
			continue
		}
		delete(p.jobStates, id)
		eventChan <- JobEvent{EventType: EventCompleted, JobID: id, PreviousState: state, NewState: state, EventTime: now()}
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// now is a seam so tests can't accidentally depend on wall-clock ordering
// across a fast poll loop; production code always uses time.Now.
var now = time.Now
