// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	e := New(CodeValidation, "weight must be <= 1000")
	require.NotNil(t, e)
	assert.Equal(t, "[VALIDATION] weight must be <= 1000", e.Error())
	assert.False(t, e.Timestamp.IsZero())
}

func TestErrorStringVariants(t *testing.T) {
	base := New(CodeOwnership, "not your job")

	assert.Equal(t, "[OWNERSHIP] not your job", base.Error())
	assert.Equal(t, "[OWNERSHIP] not your job (job_003)", base.WithJobID("job_003").Error())
	assert.Equal(t, "[OWNERSHIP] not your job: owner is alice", base.WithDetails("owner is alice").Error())

	full := base.WithJobID("job_003").WithDetails("owner is alice")
	assert.Equal(t, "[OWNERSHIP] not your job (job_003): owner is alice", full.Error())
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	base := New(CodeValidation, "bad value")
	withField := base.WithField("WEIGHT")

	assert.Empty(t, base.Field)
	assert.Equal(t, "WEIGHT", withField.Field)
}

func TestWrapCarriesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	e := Wrap(CodeInternal, "could not write record", cause)

	assert.Same(t, cause, e.Unwrap())
	assert.True(t, stderrors.Is(e, e))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeStale, "pid gone")
	b := New(CodeStale, "different message, same code")
	c := New(CodeOwnership, "wrong code")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestIsCode(t *testing.T) {
	e := New(CodeTimeout, "too slow")
	assert.True(t, IsCode(e, CodeTimeout))
	assert.False(t, IsCode(e, CodeRuntime))
	assert.False(t, IsCode(stderrors.New("plain"), CodeTimeout))
}
