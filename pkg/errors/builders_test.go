// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapOSError_Nil(t *testing.T) {
	assert.Nil(t, WrapOSError(nil))
}

func TestWrapOSError_PassesThroughWjmError(t *testing.T) {
	original := New(CodeValidation, "already structured")
	got := WrapOSError(original)
	assert.Same(t, original, got)
}

func TestWrapOSError_DeadlineExceeded(t *testing.T) {
	got := WrapOSError(context.DeadlineExceeded)
	assert.Equal(t, CodeConcurrency, got.Code)
}

func TestWrapOSError_NotExist(t *testing.T) {
	_, err := os.Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	got := WrapOSError(err)
	assert.Equal(t, CodeNotFound, got.Code)
}

func TestWrapOSError_Permission(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission errors are not enforced")
	}

	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o000))
	defer os.Chmod(locked, 0o700)

	_, err := os.Create(filepath.Join(locked, "f"))
	require.Error(t, err)

	got := WrapOSError(err)
	assert.Equal(t, CodeOwnership, got.Code)
}

func TestBuilderHelpers(t *testing.T) {
	assert.Equal(t, CodeValidation, NewValidationError("WEIGHT", "must be <= 1000").Code)
	assert.Equal(t, CodeCapacity, NewCapacityError("weight 120 exceeds MAX_TOTAL_WEIGHT 100").Code)
	assert.Equal(t, CodeOwnership, NewOwnershipError("job_001", "alice", "bob").Code)
	assert.Equal(t, CodeNotFound, NewNotFoundError("job_999").Code)
	assert.Equal(t, CodeTimeout, NewTimeoutError("job_001", 124).Code)
	assert.Equal(t, CodeHookFailure, NewHookFailureError("job_001", 1).Code)
	assert.Equal(t, CodeRuntime, NewRuntimeError("job_001", 2).Code)
	assert.Equal(t, CodeStale, NewStaleError("job_001", 4242).Code)
	assert.Equal(t, CodeIdExhausted, NewIdExhaustedError().Code)
}
