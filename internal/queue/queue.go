// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the Queue Processor: the backfill drain pass
// that turns QUEUED entries into RUNNING jobs as capacity frees up, invoked
// after a submission that ends up queued and after every job's finalize step.
package queue

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jontk/wjm/internal/admission"
	"github.com/jontk/wjm/internal/lock"
	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/internal/store"
	"github.com/jontk/wjm/internal/supervisor"
	"github.com/jontk/wjm/pkg/config"
	"github.com/jontk/wjm/pkg/logging"
)

// processedMarkerMaxAge is how long a .run.processed marker survives before
// the next drain pass sweeps it, bounding queue directory growth.
const processedMarkerMaxAge = 24 * time.Hour

// Processor runs backfill drain passes over the queue directory.
type Processor struct {
	store      *store.Store
	locks      *lock.Manager
	admission  *admission.Controller
	supervisor *supervisor.Supervisor
	cfg        *config.Config
	logger     logging.Logger
}

// New builds a Processor. logger may be nil.
func New(s *store.Store, m *lock.Manager, ac *admission.Controller, sup *supervisor.Supervisor, cfg *config.Config, logger logging.Logger) *Processor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Processor{store: s, locks: m, admission: ac, supervisor: sup, cfg: cfg, logger: logger}
}

// Drain runs one backfill pass: acquire Scheduler (blocking), then attempt
// QueueDrain non-blocking — preserving the decreasing-rank order Scheduler
// (3) then QueueDrain (1) — clean stale processed markers, then walk queue
// entries by priority admitting every eligible one until capacity or the
// queue is exhausted. If another drainer already holds QueueDrain, Drain
// releases Scheduler and returns immediately; that is not an error.
func (p *Processor) Drain(ctx context.Context) error {
	schedHandle, err := p.locks.AcquireScheduler(ctx, 30*time.Second)
	if err != nil {
		return err
	}
	defer schedHandle.Release()

	drainHandle, ok, err := p.locks.AcquireQueueDrain()
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("another drain pass is already in progress, skipping")
		return nil
	}
	defer drainHandle.Release()

	if err := p.store.CleanProcessedMarkers(func(info os.FileInfo) bool {
		return time.Since(info.ModTime()) > processedMarkerMaxAge
	}); err != nil {
		p.logger.Warn("failed to clean processed markers", "error", err.Error())
	}

	ids, err := p.store.ListQueueJobIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	entries := make([]*record.QueueEntry, 0, len(ids))
	bodies := map[string]string{}
	for _, id := range ids {
		entry, body, err := p.store.ReadQueueEntry(id)
		if err != nil {
			p.logger.Warn("skipping unreadable queue entry", "job_id", id, "error", err.Error())
			continue
		}
		entries = append(entries, entry)
		bodies[id] = body
	}

	sortByPriorityThenSubmitOrder(entries)

	for _, entry := range entries {
		running, err := p.store.ListRunning()
		if err != nil {
			return err
		}
		if p.cfg.MaxConcurrentJobs > 0 && len(running) >= p.cfg.MaxConcurrentJobs {
			break
		}

		decision, err := p.admission.Decide(ctx, admission.Candidate{
			JobID:        entry.JobID,
			Weight:       entry.Weight,
			GPUSpec:      entry.GPUSpec,
			Dependencies: entry.Dependencies,
		}, true)
		if err != nil {
			p.logger.Warn("admission decision failed during drain", "job_id", entry.JobID, "error", err.Error())
			continue
		}
		if !decision.Admit {
			// Backfill semantics: an ineligible head-of-line entry does not
			// block entries behind it.
			continue
		}

		if err := p.dispatch(ctx, entry, bodies[entry.JobID], decision); err != nil {
			p.logger.Warn("dispatch failed during drain", "job_id", entry.JobID, "error", err.Error())
			continue
		}
	}

	return nil
}

// dispatch admits entry: every resolved field (resource/scheduling specs,
// hooks, timeout, retry policy) was captured in the queue sidecars at
// submission time, so dispatch restores the job from entry directly instead
// of re-parsing the stored body, which by this point has already had its
// directive header stripped by the Directive Parser.
func (p *Processor) dispatch(ctx context.Context, entry *record.QueueEntry, body string, decision *admission.Decision) error {
	if err := p.store.CreateJobDirExclusive(entry.JobID); err != nil {
		return err
	}

	gpuSpec := entry.GPUSpec
	if len(decision.ResolvedGPUs) > 0 {
		gpuSpec = joinInts(decision.ResolvedGPUs)
	}

	_, err := p.supervisor.Start(ctx, supervisor.StartParams{
		JobID:             entry.JobID,
		User:              entry.User,
		Name:              entry.Name,
		ScriptName:        entry.ScriptName,
		ScriptBody:        body,
		Weight:            entry.Weight,
		GPUSpec:           gpuSpec,
		CPUSpec:           entry.CPUSpec,
		MemorySpec:        entry.MemorySpec,
		Priority:          entry.Priority,
		TimeoutRaw:        entry.TimeoutRaw,
		Dependencies:      entry.Dependencies,
		RetryMax:          entry.RetryMax,
		RetryDelaySeconds: entry.RetryDelaySeconds,
		RetryOn:           entry.RetryOn,
		PreHook:           entry.PreHook,
		PostHook:          entry.PostHook,
		OnFail:            entry.OnFail,
		OnSuccess:         entry.OnSuccess,
		Project:           entry.Project,
		Group:             entry.Group,
	})
	if err != nil {
		p.store.RemoveJobDir(entry.JobID)
		return err
	}

	if err := p.store.RemoveQueueEntry(entry.JobID); err != nil {
		return err
	}
	return p.store.MarkQueueEntryProcessed(entry.JobID)
}

// sortByPriorityThenSubmitOrder orders entries by descending priority
// weight, breaking ties by submission order (already the lexical job-id order
// ListQueueJobIDs returns, so a stable sort preserves it).
func sortByPriorityThenSubmitOrder(entries []*record.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority.Weight() > entries[j].Priority.Weight()
	})
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
