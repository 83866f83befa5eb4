// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob() *Job {
	exitCode := 0
	return &Job{
		JobID:        "job_007",
		Name:         "nightly-build",
		User:         "alice",
		ScriptName:   "build.sh",
		Weight:       40,
		GPUSpec:      "0,1",
		CPUSpec:      "0-3",
		MemorySpec:   "2G",
		Priority:     PriorityHigh,
		TimeoutRaw:   "2s",
		Dependencies: []string{"job_001", "job_002"},
		RetryMax:     3,
		RetryDelaySeconds: 60,
		RetryOn:      []int{1, 2},
		RetryCount:   1,
		PreHook:      "echo starting",
		PostHook:     "echo done",
		Project:      "infra",
		Group:        "ci",
		SubmitTime:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		StartTime:    time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
		EndTime:      time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
		PID:          12345,
		Status:       StatusCompleted,
		ExitCode:     &exitCode,
		FailReason:   "",
		Unknown:      map[string]string{},
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	original := sampleJob()
	data := Marshal(original)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, original.JobID, got.JobID)
	assert.Equal(t, original.Name, got.Name)
	assert.Equal(t, original.User, got.User)
	assert.Equal(t, original.Weight, got.Weight)
	assert.Equal(t, original.GPUSpec, got.GPUSpec)
	assert.Equal(t, original.CPUSpec, got.CPUSpec)
	assert.Equal(t, original.Priority, got.Priority)
	assert.Equal(t, original.TimeoutRaw, got.TimeoutRaw)
	assert.ElementsMatch(t, original.Dependencies, got.Dependencies)
	assert.Equal(t, original.RetryMax, got.RetryMax)
	assert.ElementsMatch(t, original.RetryOn, got.RetryOn)
	assert.Equal(t, original.PID, got.PID)
	assert.Equal(t, original.Status, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, *original.ExitCode, *got.ExitCode)
	assert.True(t, original.SubmitTime.Equal(got.SubmitTime))
	assert.True(t, original.StartTime.Equal(got.StartTime))
	assert.True(t, original.EndTime.Equal(got.EndTime))
}

func TestUnmarshalPreservesUnknownKeys(t *testing.T) {
	data := []byte("JOB_ID=job_001\nSTATUS=RUNNING\nFUTURE_FIELD=some-value\n")

	j, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, "job_001", j.JobID)
	assert.Equal(t, StatusRunning, j.Status)
	assert.Equal(t, "some-value", j.Unknown["FUTURE_FIELD"])
}

func TestMarshalRoundTripsUnknownKeys(t *testing.T) {
	j := &Job{JobID: "job_002", Status: StatusQueued, Unknown: map[string]string{"NEW_KEY": "value"}}
	data := Marshal(j)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "value", got.Unknown["NEW_KEY"])
}

func TestUnmarshalSkipsMalformedLines(t *testing.T) {
	data := []byte("JOB_ID=job_003\nthis line has no equals sign\nSTATUS=FAILED\n")

	j, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "job_003", j.JobID)
	assert.Equal(t, StatusFailed, j.Status)
}

func TestUnmarshalRejectsNonIntegerWeight(t *testing.T) {
	_, err := Unmarshal([]byte("JOB_ID=job_004\nWEIGHT=not-a-number\n"))
	require.Error(t, err)
}

func TestRetryOnEmptyMeansAnyNonzero(t *testing.T) {
	j := &Job{RetryMax: 3, RetryOn: nil}
	assert.True(t, j.RetryOnMatches(1))
	assert.True(t, j.RetryOnMatches(17))
	assert.False(t, j.RetryOnMatches(0))
}

func TestRetryOnExplicitSet(t *testing.T) {
	j := &Job{RetryMax: 3, RetryOn: []int{2, 5}}
	assert.True(t, j.RetryOnMatches(2))
	assert.False(t, j.RetryOnMatches(3))
}

func TestCanRetryRespectsRetryMax(t *testing.T) {
	j := &Job{RetryMax: 1, RetryCount: 1, RetryOn: nil}
	assert.False(t, j.CanRetry(1))
}

func TestPriorityWeightOrdering(t *testing.T) {
	assert.Greater(t, PriorityUrgent.Weight(), PriorityHigh.Weight())
	assert.Greater(t, PriorityHigh.Weight(), PriorityNormal.Weight())
	assert.Greater(t, PriorityNormal.Weight(), PriorityLow.Weight())
}

func TestValidPriority(t *testing.T) {
	assert.True(t, ValidPriority(PriorityUrgent))
	assert.False(t, ValidPriority(Priority("whenever")))
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusKilled.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusQueued.Terminal())
}
