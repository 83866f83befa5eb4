// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package idalloc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jontk/wjm/internal/lock"
	"github.com/jontk/wjm/internal/store"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *Allocator {
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
	return New(s, m)
}

func TestAllocateFirstID(t *testing.T) {
	a := newTestAllocator(t)
	id, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job_001", id)
}

func TestAllocateIsGapFilling(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.store.CreateJobDirExclusive("job_001"))
	require.NoError(t, a.store.CreateJobDirExclusive("job_003"))

	id, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job_004", id)
}

func TestAllocateCreatesRecordDirectory(t *testing.T) {
	a := newTestAllocator(t)
	id, err := a.Allocate(context.Background())
	require.NoError(t, err)

	_, err = a.store.ReadJob(id)
	// job.info hasn't been written yet, but the directory must exist.
	require.Error(t, err)
	assert.True(t, werrors.IsCode(err, werrors.CodeNotFound))
	assert.DirExists(t, a.store.JobPath(id))
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.store.CreateJobDirExclusive(store.FormatJobID(999)))

	_, err := a.Allocate(context.Background())
	require.Error(t, err)
	assert.True(t, werrors.IsCode(err, werrors.CodeIdExhausted))
}

func TestAllocateConcurrentCallersGetDistinctIDs(t *testing.T) {
	a := newTestAllocator(t)

	const n = 5
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = a.Allocate(context.Background())
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id allocated: %s", ids[i])
		seen[ids[i]] = true
	}
	assert.Len(t, seen, n)
}
