// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"github.com/jontk/wjm/internal/directive"
	"github.com/jontk/wjm/internal/record"
	"github.com/pbnjay/memory"
	"golang.org/x/sys/unix"
)

// applyResourceLimitsToPID pins the just-started child to its resolved CPU
// set and caps its virtual memory, applied after Start (Linux has no
// SysProcAttr field for either, only per-pid syscalls taking the child's pid
// directly: sched_setaffinity and prlimit).
func applyResourceLimitsToPID(pid int, p StartParams) {
	if sel, err := directive.ParseCPUSpec(p.CPUSpec); err == nil && len(sel.CPUs) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, cpu := range sel.CPUs {
			set.Set(cpu)
		}
		unix.SchedSetaffinity(pid, &set)
	}

	if p.MemorySpec != "" && p.MemorySpec != record.NA {
		total := memory.TotalMemory()
		if bytes, ok, err := directive.MemoryBytes(p.MemorySpec, total); err == nil && ok {
			limit := unix.Rlimit{Cur: bytes, Max: bytes}
			unix.Prlimit(pid, unix.RLIMIT_AS, &limit, nil)
		}
	}
}
