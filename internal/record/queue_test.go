// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueEntrySidecarsRoundTrip(t *testing.T) {
	e := &QueueEntry{
		JobID:        "job_003",
		Weight:       40,
		GPUSpec:      "0",
		Priority:     PriorityNormal,
		Dependencies: []string{"job_001"},
		SubmitTime:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Name:         "nightly",
		QueueReason:  "weight 40+40+40=120 exceeds MAX_TOTAL_WEIGHT 100",
	}

	sidecars := e.Sidecars()
	got := QueueEntryFromSidecars("job_003", sidecars)

	assert.Equal(t, e.JobID, got.JobID)
	assert.Equal(t, e.Weight, got.Weight)
	assert.Equal(t, e.GPUSpec, got.GPUSpec)
	assert.Equal(t, e.Priority, got.Priority)
	assert.ElementsMatch(t, e.Dependencies, got.Dependencies)
	assert.True(t, e.SubmitTime.Equal(got.SubmitTime))
	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, e.QueueReason, got.QueueReason)
}

func TestQueueEntryFromSidecarsToleratesMissingFiles(t *testing.T) {
	got := QueueEntryFromSidecars("job_009", map[SidecarExt]string{
		SidecarWeight: "10",
	})
	assert.Equal(t, 10, got.Weight)
	assert.Empty(t, got.Name)
	assert.Nil(t, got.Dependencies)
}

func TestQueueEntryToJobSeedsQueuedStatus(t *testing.T) {
	e := &QueueEntry{JobID: "job_004", Weight: 10, Priority: PriorityLow}
	j := e.ToJob()

	assert.Equal(t, StatusQueued, j.Status)
	assert.Equal(t, "job_004", j.JobID)
	assert.False(t, j.QueueTime.IsZero())
}
