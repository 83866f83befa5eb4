// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package idalloc implements the ID Allocator: given no input, produce a new
// job_id with its record directory already created, or fail with
// CodeIdExhausted.
package idalloc

import (
	"context"
	"time"

	"github.com/jontk/wjm/internal/lock"
	"github.com/jontk/wjm/internal/store"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/jontk/wjm/pkg/retry"
)

const (
	maxJobIndex         = 999
	collisionRetryDelay = 100 * time.Millisecond
	collisionMaxRetries = 1000
)

// Allocator assigns new job ids and creates their record directories
// atomically.
type Allocator struct {
	store *store.Store
	locks *lock.Manager
}

// New builds an Allocator over s, guarded by m's IdGen lock.
func New(s *store.Store, m *lock.Manager) *Allocator {
	return &Allocator{store: s, locks: m}
}

// Allocate runs the full algorithm from the ID Allocator's design:
// acquire IdGen, scan for the max existing numeric suffix, create
// candidate+1's directory with exclusive-create semantics (retrying on the
// defensive collision path), then release IdGen.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	handle, err := a.locks.AcquireIdGen(ctx, 30*time.Second)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	max, err := a.store.MaxJobIndex()
	if err != nil {
		return "", err
	}

	candidate := max + 1
	if candidate > maxJobIndex {
		return "", werrors.NewIdExhaustedError()
	}
	jobID := store.FormatJobID(candidate)

	// The directory-creation collision path is defensive: it must not occur
	// while IdGen is held. If it ever does (e.g. directories restored out of
	// band), recompute the candidate and retry on the same constant backoff
	// the rest of the codebase uses for bounded collision loops.
	backoff := retry.NewConstantBackoff(collisionRetryDelay, collisionMaxRetries)
	for attempt := 0; ; attempt++ {
		createErr := a.store.CreateJobDirExclusive(jobID)
		if createErr == nil {
			return jobID, nil
		}
		if !werrors.IsCode(createErr, werrors.CodeConcurrency) {
			return "", createErr
		}

		max, scanErr := a.store.MaxJobIndex()
		if scanErr != nil {
			return "", scanErr
		}
		next := max + 1
		if next > maxJobIndex {
			return "", werrors.NewIdExhaustedError()
		}
		jobID = store.FormatJobID(next)

		delay, shouldContinue := backoff.NextDelay(attempt)
		if !shouldContinue {
			return "", werrors.Wrap(werrors.CodeInternal, "id allocator exhausted collision retries", createErr)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
