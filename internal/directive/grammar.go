// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package directive

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jontk/wjm/internal/record"
	werrors "github.com/jontk/wjm/pkg/errors"
)

// ParseDuration parses the TIMEOUT grammar: "<num>[smhd]?", defaulting to
// seconds when no unit suffix is given.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit := value[len(value)-1]
	numPart := value
	var multiplier time.Duration
	switch unit {
	case 's':
		multiplier = time.Second
		numPart = value[:len(value)-1]
	case 'm':
		multiplier = time.Minute
		numPart = value[:len(value)-1]
	case 'h':
		multiplier = time.Hour
		numPart = value[:len(value)-1]
	case 'd':
		multiplier = 24 * time.Hour
		numPart = value[:len(value)-1]
	default:
		multiplier = time.Second
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return time.Duration(n * float64(multiplier)), nil
}

// CPUSelection is a resolved CPU affinity set, empty when CPUSpec is N/A.
type CPUSelection struct {
	CPUs []int
}

// ParseCPUSpec parses the CPU/CORES grammar: a bare count (expanded to
// 0..count-1), a range "a-b", an explicit list "a,b,c", or N/A.
func ParseCPUSpec(spec string) (*CPUSelection, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == record.NA {
		return &CPUSelection{}, nil
	}

	if strings.Contains(spec, ",") {
		var cpus []int
		for _, part := range strings.Split(spec, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, werrors.NewValidationError("CPU", "must be a count, range, or comma list")
			}
			cpus = append(cpus, n)
		}
		return &CPUSelection{CPUs: cpus}, nil
	}

	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || lo > hi {
			return nil, werrors.NewValidationError("CPU", "invalid range")
		}
		cpus := make([]int, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			cpus = append(cpus, i)
		}
		return &CPUSelection{CPUs: cpus}, nil
	}

	count, err := strconv.Atoi(spec)
	if err != nil || count <= 0 {
		return nil, werrors.NewValidationError("CPU", "must be a positive count, range, or comma list")
	}
	cpus := make([]int, count)
	for i := 0; i < count; i++ {
		cpus[i] = i
	}
	return &CPUSelection{CPUs: cpus}, nil
}

// MemoryBytes parses the MEMORY grammar "<num>[KMGT%]?B?" into bytes. A
// percentage value is resolved against totalBytes (the machine's total
// memory, from the Resource Probe). Returns 0, false for N/A.
func MemoryBytes(spec string, totalBytes uint64) (uint64, bool, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == record.NA {
		return 0, false, nil
	}

	if strings.HasSuffix(spec, "%") {
		pctStr := strings.TrimSuffix(spec, "%")
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil || pct <= 0 || pct > 100 {
			return 0, false, werrors.NewValidationError("MEMORY", "percentage must be in (0, 100]")
		}
		return uint64(float64(totalBytes) * pct / 100), true, nil
	}

	spec = strings.TrimSuffix(spec, "B")
	if spec == "" {
		return 0, false, werrors.NewValidationError("MEMORY", "missing numeric value")
	}

	unit := spec[len(spec)-1]
	var multiplier uint64 = 1
	numPart := spec
	switch unit {
	case 'K', 'k':
		multiplier = 1 << 10
		numPart = spec[:len(spec)-1]
	case 'M', 'm':
		multiplier = 1 << 20
		numPart = spec[:len(spec)-1]
	case 'G', 'g':
		multiplier = 1 << 30
		numPart = spec[:len(spec)-1]
	case 'T', 't':
		multiplier = 1 << 40
		numPart = spec[:len(spec)-1]
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil || n <= 0 {
		return 0, false, werrors.NewValidationError("MEMORY", "must be <num>[KMGT%]?B?")
	}
	return uint64(n * float64(multiplier)), true, nil
}
