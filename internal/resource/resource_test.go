// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"testing"

	"github.com/jontk/wjm/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeWithoutGPUDiscovery(t *testing.T) {
	p := &Probe{}
	snap, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Greater(t, snap.LogicalCPUs, 0)
	assert.Greater(t, snap.PhysicalCPUs, 0)
	assert.Empty(t, snap.GPUs)
}

func TestParseGPUCSV(t *testing.T) {
	csv := "0, NVIDIA A100, 40960, 12\n1, NVIDIA A100, 40960, 0\n"
	gpus, err := parseGPUCSV(csv)
	require.NoError(t, err)
	require.Len(t, gpus, 2)
	assert.Equal(t, 0, gpus[0].ID)
	assert.Equal(t, "NVIDIA A100", gpus[0].Name)
	assert.Equal(t, 40960, gpus[0].MemoryMB)
	assert.Equal(t, 12, gpus[0].UtilizationPct)
}

func TestExplicitGPUIDs(t *testing.T) {
	assert.Equal(t, []int{0, 1}, ExplicitGPUIDs("0,1"))
	assert.Nil(t, ExplicitGPUIDs(record.NA))
	assert.Nil(t, ExplicitGPUIDs("auto"))
	assert.Nil(t, ExplicitGPUIDs("auto:2"))
}

func TestAllocatedAndFreeGPUs(t *testing.T) {
	running := []*record.Job{
		{Status: record.StatusRunning, GPUSpec: "0"},
		{Status: record.StatusRunning, GPUSpec: "2"},
	}
	allocated := AllocatedGPUs(running)
	assert.True(t, allocated[0])
	assert.True(t, allocated[2])

	total := []GPU{{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3}}
	free := FreeGPUs(total, allocated)
	assert.Equal(t, []int{1, 3}, free)
}

func TestResolveAutoPicksLowestFreeIDs(t *testing.T) {
	resolved, ok := ResolveAuto("auto:2", []int{3, 1, 2})
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, resolved)
}

func TestResolveAutoInsufficientFree(t *testing.T) {
	_, ok := ResolveAuto("auto:3", []int{0, 1})
	assert.False(t, ok)
}

func TestIsAutoSpec(t *testing.T) {
	assert.True(t, IsAutoSpec("auto"))
	assert.True(t, IsAutoSpec("auto:2"))
	assert.False(t, IsAutoSpec("0,1"))
}
