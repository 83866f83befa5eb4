// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package record defines the wjm Job Record and Queue Entry types plus the
// KEY=VALUE codec used to persist them, as described in the data model and
// external interfaces sections.
package record

import "time"

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusKilled    Status = "KILLED"
)

// Terminal reports whether s is one of the three terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// Priority is the scheduling priority band, ordered urgent > high > normal > low.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Weight returns the numeric scheduling weight a drain pass orders queue
// entries by, highest first: urgent=40, high=30, normal=20, low=10.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 40
	case PriorityHigh:
		return 30
	case PriorityNormal:
		return 20
	case PriorityLow:
		return 10
	default:
		return PriorityNormal.Weight()
	}
}

// ValidPriority reports whether p is one of the four recognized bands.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// NA is the textual placeholder used for unset optional fields, matching the
// job-file directive grammar's "N/A".
const NA = "N/A"

// Job is the full Job Record described in the data model: identity, script
// metadata, resource spec, scheduling fields, retry state, hooks,
// organization tags, timestamps and execution state.
type Job struct {
	// Identity
	JobID string // "job_NNN"
	Name  string // optional friendly name, empty if unset
	User  string

	// Script
	ScriptName string // original file basename

	// Resources
	Weight     int
	GPUSpec    string // N/A, explicit list, "auto", or "auto:K"
	CPUSpec    string // count, range, list, or N/A
	MemorySpec string // <num><K|M|G|T|%> or N/A

	// Scheduling
	Priority     Priority
	TimeoutRaw   string // raw directive value, e.g. "2s" or N/A
	Dependencies []string

	// Retry
	RetryMax          int
	RetryDelaySeconds int
	RetryOn           []int // empty means "any nonzero"
	RetryCount        int

	// Hooks
	PreHook    string
	PostHook   string
	OnFail     string
	OnSuccess  string

	// Organization
	Project string
	Group   string

	// Timing
	SubmitTime time.Time
	QueueTime  time.Time // zero value means never queued
	StartTime  time.Time
	EndTime    time.Time

	// Execution
	PID        int // 0 means not running
	Status     Status
	ExitCode   *int
	FailReason string

	// Unknown preserves any KEY=VALUE pair this binary doesn't recognize so a
	// record written by a newer version round-trips unharmed.
	Unknown map[string]string
}

// IsRunningOrPaused reports whether the job is expected to have a live pid
// file, per the state store invariant.
func (j *Job) IsRunningOrPaused() bool {
	return j.Status == StatusRunning || j.Status == StatusPaused
}

// RetryOnMatches reports whether exitCode should trigger a retry given the
// job's RetryOn set: an empty set matches any nonzero exit.
func (j *Job) RetryOnMatches(exitCode int) bool {
	if exitCode == 0 {
		return false
	}
	if len(j.RetryOn) == 0 {
		return true
	}
	for _, code := range j.RetryOn {
		if code == exitCode {
			return true
		}
	}
	return false
}

// CanRetry reports whether another retry attempt is permitted for exitCode.
func (j *Job) CanRetry(exitCode int) bool {
	return j.RetryCount < j.RetryMax && j.RetryOnMatches(exitCode)
}
