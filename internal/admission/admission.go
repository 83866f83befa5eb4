// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package admission implements the Admission Controller: the eligibility
// test and commit-or-queue decision applied to every candidate job, whether
// freshly submitted or read from a drain pass.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/jontk/wjm/internal/lock"
	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/internal/resource"
	"github.com/jontk/wjm/internal/store"
	"github.com/jontk/wjm/pkg/config"
	werrors "github.com/jontk/wjm/pkg/errors"
)

// Candidate is the resource/scheduling shape the controller needs to decide
// admission; it's satisfied by both a fresh submission and a queue entry
// pulled off the queue directory.
type Candidate struct {
	JobID        string
	Weight       int
	GPUSpec      string // may be "auto"/"auto:K", resolved here if admitted
	Dependencies []string
}

// Decision is the result of an eligibility test.
type Decision struct {
	Admit         bool
	Reason        string // human-readable queue_reason when Admit is false
	ResolvedGPUs  []int  // explicit GPU ids to export, once resolved
}

// Controller decides whether a candidate job may start now.
type Controller struct {
	store   *store.Store
	locks   *lock.Manager
	probe   *resource.Probe
	cfg     *config.Config
}

// New builds a Controller.
func New(s *store.Store, m *lock.Manager, probe *resource.Probe, cfg *config.Config) *Controller {
	return &Controller{store: s, locks: m, probe: probe, cfg: cfg}
}

// Decide evaluates c against current RUNNING records and resource
// inventory. When fromQueue is true, the caller (the Queue Processor) must
// already hold the Scheduler lock for the duration of its drain pass; Decide
// then skips reacquiring it to honor the Scheduler > IdGen > QueueDrain
// ordering rule and avoid deadlocking on its own lock.
func (c *Controller) Decide(ctx context.Context, candidate Candidate, fromQueue bool) (*Decision, error) {
	if !fromQueue {
		handle, err := c.locks.AcquireScheduler(ctx, 30*time.Second)
		if err != nil {
			return nil, err
		}
		defer handle.Release()
	}

	return c.decideLocked(ctx, candidate)
}

func (c *Controller) decideLocked(ctx context.Context, candidate Candidate) (*Decision, error) {
	running, err := c.store.ListRunning()
	if err != nil {
		return nil, err
	}

	runningCount := len(running)
	runningWeight := 0
	for _, j := range running {
		runningWeight += j.Weight
	}

	if c.cfg.MaxTotalWeight > 0 && runningWeight+candidate.Weight > c.cfg.MaxTotalWeight {
		return refused(fmt.Sprintf("weight %d+%d=%d exceeds MAX_TOTAL_WEIGHT %d", runningWeight, candidate.Weight, runningWeight+candidate.Weight, c.cfg.MaxTotalWeight)), nil
	}
	if c.cfg.MaxConcurrentJobs > 0 && runningCount >= c.cfg.MaxConcurrentJobs {
		return refused(fmt.Sprintf("running count %d >= MAX_CONCURRENT_JOBS %d", runningCount, c.cfg.MaxConcurrentJobs)), nil
	}

	for _, depID := range candidate.Dependencies {
		dep, err := c.store.ReadJob(depID)
		if err != nil {
			if werrors.IsCode(err, werrors.CodeNotFound) {
				return refused(fmt.Sprintf("dependency %s not found", depID)), nil
			}
			return nil, err
		}
		if dep.Status != record.StatusCompleted {
			return refused(fmt.Sprintf("dependency %s is not COMPLETED (status=%s)", depID, dep.Status)), nil
		}
	}

	resolvedGPUs, gpuReason, ok := c.resolveGPUs(ctx, candidate.GPUSpec, running)
	if !ok {
		return refused(gpuReason), nil
	}

	return &Decision{Admit: true, ResolvedGPUs: resolvedGPUs}, nil
}

func refused(reason string) *Decision {
	return &Decision{Admit: false, Reason: reason}
}

func (c *Controller) resolveGPUs(ctx context.Context, spec string, running []*record.Job) ([]int, string, bool) {
	if spec == "" || spec == record.NA {
		return nil, "", true
	}

	allocated := resource.AllocatedGPUs(running)

	if resource.IsAutoSpec(spec) {
		snap, err := c.probe.Probe(ctx)
		if err != nil {
			return nil, "resource probe failed", false
		}
		free := resource.FreeGPUs(snap.GPUs, allocated)
		resolved, ok := resource.ResolveAuto(spec, free)
		if !ok {
			return nil, fmt.Sprintf("insufficient free GPUs for %q", spec), false
		}
		return resolved, "", true
	}

	explicit := resource.ExplicitGPUIDs(spec)
	for _, id := range explicit {
		if allocated[id] {
			return nil, fmt.Sprintf("GPU %d already allocated to a RUNNING job", id), false
		}
	}
	return explicit, "", true
}
