// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
)

// WrapOSError classifies a generic OS/filesystem error into the wjm
// taxonomy. Used by the lock manager and state store, whose failures are
// almost always os.PathError / context deadline errors rather than network
// errors (this system has no remote API).
func WrapOSError(err error) *WjmError {
	if err == nil {
		return nil
	}

	var wjmErr *WjmError
	if stderrors.As(err, &wjmErr) {
		return wjmErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeConcurrency, "lock acquisition timed out", err)
	}
	if stderrors.Is(err, context.Canceled) {
		return Wrap(CodeConcurrency, "operation canceled while waiting for a lock", err)
	}
	if os.IsNotExist(err) {
		return Wrap(CodeNotFound, "referenced path does not exist", err)
	}
	if os.IsExist(err) {
		return Wrap(CodeConcurrency, "path already exists (concurrent writer)", err)
	}
	if os.IsPermission(err) {
		return Wrap(CodeOwnership, "permission denied", err)
	}

	return Wrap(CodeInternal, err.Error(), err)
}

// NewValidationError builds a CodeValidation error naming the offending
// directive/flag and the rule it violated.
func NewValidationError(field, rule string) *WjmError {
	return Newf(CodeValidation, "invalid %s: %s", field, rule).WithField(field)
}

// NewCapacityError builds a CodeCapacity error describing why admission was
// refused; its Message becomes the persisted queue_reason.
func NewCapacityError(reason string) *WjmError {
	return New(CodeCapacity, reason)
}

// NewOwnershipError builds a CodeOwnership error for a control verb applied
// to a record the caller does not own.
func NewOwnershipError(jobID, owner, caller string) *WjmError {
	return Newf(CodeOwnership, "job %s is owned by %q, not %q", jobID, owner, caller).WithJobID(jobID)
}

// NewNotFoundError builds a CodeNotFound error for a missing job id.
func NewNotFoundError(jobID string) *WjmError {
	return Newf(CodeNotFound, "job %s not found", jobID).WithJobID(jobID)
}

// NewTimeoutError builds a CodeTimeout error recording the observed exit
// code (124 after SIGTERM, 137 after the follow-up SIGKILL).
func NewTimeoutError(jobID string, exitCode int) *WjmError {
	return Newf(CodeTimeout, "job exceeded its timeout (exit %d)", exitCode).WithJobID(jobID)
}

// NewHookFailureError builds a CodeHookFailure error for a failed pre-hook.
func NewHookFailureError(jobID string, exitCode int) *WjmError {
	return Newf(CodeHookFailure, "pre-hook exited %d", exitCode).WithJobID(jobID)
}

// NewRuntimeError builds a CodeRuntime error for a job that exhausted retry
// policy with a non-zero exit.
func NewRuntimeError(jobID string, exitCode int) *WjmError {
	return Newf(CodeRuntime, "job exited %d", exitCode).WithJobID(jobID)
}

// NewStaleError builds a CodeStale error describing a RUNNING/PAUSED record
// whose pid file is missing or whose process no longer exists.
func NewStaleError(jobID string, pid int) *WjmError {
	return Newf(CodeStale, "pid %d for job %s is no longer alive", pid, jobID).WithJobID(jobID)
}

// NewIdExhaustedError builds a CodeIdExhausted error, fatal to submission.
func NewIdExhaustedError() *WjmError {
	return New(CodeIdExhausted, "no job ids remain in the range job_001..job_999; archive completed jobs first")
}

// Fmt is a small convenience so call sites can build ad-hoc internal errors
// without importing fmt directly alongside this package.
func Fmt(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
