// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package resource implements the Resource Probe: system CPU/memory/GPU
// inventory and the derived allocated/free GPU views used by admission.
package resource

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/jontk/wjm/internal/record"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/pbnjay/memory"
)

// GPU describes one discovered GPU device.
type GPU struct {
	ID             int
	Name           string
	MemoryMB       int
	UtilizationPct int
}

// Snapshot is a point-in-time view of system resources, never cached across
// CLI invocations per the concurrency model.
type Snapshot struct {
	LogicalCPUs  int
	PhysicalCPUs int
	TotalMemory  uint64
	FreeMemory   uint64
	GPUs         []GPU
}

// Probe queries the system and the state store for current resource usage.
type Probe struct {
	// GPUDiscoveryCmd is the executable used for GPU inventory, overridable
	// for tests. Empty disables GPU discovery.
	GPUDiscoveryCmd string
	GPUDiscoveryArgs []string
}

// NewDefault builds a Probe using nvidia-smi if present on PATH.
func NewDefault() *Probe {
	p := &Probe{
		GPUDiscoveryArgs: []string{"--query-gpu=index,name,memory.total,utilization.gpu", "--format=csv,noheader,nounits"},
	}
	if path, err := exec.LookPath("nvidia-smi"); err == nil {
		p.GPUDiscoveryCmd = path
	}
	return p
}

// Probe queries logical/physical CPU count, total/available memory, and GPU
// inventory if a discovery command is configured.
func (p *Probe) Probe(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		LogicalCPUs: runtime.NumCPU(),
		TotalMemory: memory.TotalMemory(),
		FreeMemory:  memory.FreeMemory(),
	}

	physical, err := physicalCPUCount()
	if err != nil {
		physical = snap.LogicalCPUs
	}
	snap.PhysicalCPUs = physical

	if p.GPUDiscoveryCmd != "" {
		gpus, err := p.discoverGPUs(ctx)
		if err == nil {
			snap.GPUs = gpus
		}
	}

	return snap, nil
}

func (p *Probe) discoverGPUs(ctx context.Context) ([]GPU, error) {
	cmd := exec.CommandContext(ctx, p.GPUDiscoveryCmd, p.GPUDiscoveryArgs...)
	out, err := cmd.Output()
	if err != nil {
		return nil, werrors.Wrap(werrors.CodeInternal, "gpu discovery command failed", err)
	}
	return parseGPUCSV(string(out))
}

func parseGPUCSV(output string) ([]GPU, error) {
	reader := csv.NewReader(strings.NewReader(output))
	reader.TrimLeadingSpace = true

	var gpus []GPU
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) < 4 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			continue
		}
		memMB, _ := strconv.Atoi(strings.TrimSpace(record[2]))
		util, _ := strconv.Atoi(strings.TrimSpace(record[3]))
		gpus = append(gpus, GPU{
			ID:             id,
			Name:           strings.TrimSpace(record[1]),
			MemoryMB:       memMB,
			UtilizationPct: util,
		})
	}
	sort.Slice(gpus, func(i, j int) bool { return gpus[i].ID < gpus[j].ID })
	return gpus, nil
}

func physicalCPUCount() (int, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	physIDs := map[string]bool{}
	coreIDs := map[string]bool{}
	var currentPhys string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "physical id"):
			currentPhys = valueAfterColon(line)
			physIDs[currentPhys] = true
		case strings.HasPrefix(line, "core id"):
			coreIDs[currentPhys+":"+valueAfterColon(line)] = true
		}
	}
	if len(coreIDs) > 0 {
		return len(coreIDs), nil
	}
	return runtime.NumCPU(), nil
}

func valueAfterColon(line string) string {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AllocatedGPUs returns the union of gpu_spec ids over every RUNNING record.
func AllocatedGPUs(running []*record.Job) map[int]bool {
	allocated := map[int]bool{}
	for _, j := range running {
		for _, id := range ExplicitGPUIDs(j.GPUSpec) {
			allocated[id] = true
		}
	}
	return allocated
}

// FreeGPUs returns the ids in total not present in allocated, ascending.
func FreeGPUs(total []GPU, allocated map[int]bool) []int {
	var free []int
	for _, gpu := range total {
		if !allocated[gpu.ID] {
			free = append(free, gpu.ID)
		}
	}
	sort.Ints(free)
	return free
}

// ExplicitGPUIDs parses a resolved gpu_spec (never "auto"/"auto:K"/"any") into
// its explicit integer id list.
func ExplicitGPUIDs(spec string) []int {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == record.NA || strings.HasPrefix(spec, "auto") || strings.EqualFold(spec, "any") {
		return nil
	}
	var ids []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if n, err := strconv.Atoi(part); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

// ResolveAuto picks the lowest-indexed K free ids for "auto"/"auto:K" specs.
// ok is false if fewer than K ids are free.
func ResolveAuto(spec string, free []int) (resolved []int, ok bool) {
	k := 1
	if strings.Contains(spec, ":") {
		parts := strings.SplitN(spec, ":", 2)
		if n, err := strconv.Atoi(parts[1]); err == nil {
			k = n
		}
	}
	if len(free) < k {
		return nil, false
	}
	sorted := append([]int(nil), free...)
	sort.Ints(sorted)
	return sorted[:k], true
}

// IsAutoSpec reports whether spec uses the auto/auto:K grammar.
func IsAutoSpec(spec string) bool {
	return strings.HasPrefix(strings.TrimSpace(spec), "auto")
}
