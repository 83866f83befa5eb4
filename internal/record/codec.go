// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	werrors "github.com/jontk/wjm/pkg/errors"
)

// field names used in the KEY=VALUE job.info format.
const (
	keyJobID        = "JOB_ID"
	keyName         = "NAME"
	keyUser         = "USER"
	keyScriptName   = "SCRIPT_NAME"
	keyWeight       = "WEIGHT"
	keyGPUSpec      = "GPU_SPEC"
	keyCPUSpec      = "CPU_SPEC"
	keyMemorySpec   = "MEMORY_SPEC"
	keyPriority     = "PRIORITY"
	keyTimeout      = "TIMEOUT"
	keyDependencies = "DEPENDENCIES"
	keyRetryMax     = "RETRY_MAX"
	keyRetryDelay   = "RETRY_DELAY_SECONDS"
	keyRetryOn      = "RETRY_ON"
	keyRetryCount   = "RETRY_COUNT"
	keyPreHook      = "PRE_HOOK"
	keyPostHook     = "POST_HOOK"
	keyOnFail       = "ON_FAIL"
	keyOnSuccess    = "ON_SUCCESS"
	keyProject      = "PROJECT"
	keyGroup        = "GROUP"
	keySubmitTime   = "SUBMIT_TIME"
	keyQueueTime    = "QUEUE_TIME"
	keyStartTime    = "START_TIME"
	keyEndTime      = "END_TIME"
	keyPID          = "PID"
	keyStatus       = "STATUS"
	keyExitCode     = "EXIT_CODE"
	keyFailReason   = "FAIL_REASON"
)

// timeLayout is the wire format for all persisted timestamps: RFC3339 with
// second precision, matching what every reader/writer in this package
// expects.
const timeLayout = time.RFC3339

// Marshal renders j as KEY=VALUE lines, one per field, known fields first in
// a stable order followed by any preserved Unknown keys sorted
// alphabetically for deterministic output.
func Marshal(j *Job) []byte {
	var buf bytes.Buffer

	write := func(key, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&buf, "%s=%s\n", key, value)
	}
	writeTime := func(key string, t time.Time) {
		if t.IsZero() {
			return
		}
		write(key, t.Format(timeLayout))
	}

	write(keyJobID, j.JobID)
	write(keyName, j.Name)
	write(keyUser, j.User)
	write(keyScriptName, j.ScriptName)
	write(keyWeight, strconv.Itoa(j.Weight))
	write(keyGPUSpec, orNA(j.GPUSpec))
	write(keyCPUSpec, orNA(j.CPUSpec))
	write(keyMemorySpec, orNA(j.MemorySpec))
	write(keyPriority, string(j.Priority))
	write(keyTimeout, orNA(j.TimeoutRaw))
	write(keyDependencies, strings.Join(j.Dependencies, ","))
	write(keyRetryMax, strconv.Itoa(j.RetryMax))
	write(keyRetryDelay, strconv.Itoa(j.RetryDelaySeconds))
	write(keyRetryOn, joinInts(j.RetryOn))
	write(keyRetryCount, strconv.Itoa(j.RetryCount))
	write(keyPreHook, orNA(j.PreHook))
	write(keyPostHook, orNA(j.PostHook))
	write(keyOnFail, orNA(j.OnFail))
	write(keyOnSuccess, orNA(j.OnSuccess))
	write(keyProject, orNA(j.Project))
	write(keyGroup, orNA(j.Group))
	writeTime(keySubmitTime, j.SubmitTime)
	writeTime(keyQueueTime, j.QueueTime)
	writeTime(keyStartTime, j.StartTime)
	writeTime(keyEndTime, j.EndTime)
	if j.PID != 0 {
		write(keyPID, strconv.Itoa(j.PID))
	}
	write(keyStatus, string(j.Status))
	if j.ExitCode != nil {
		write(keyExitCode, strconv.Itoa(*j.ExitCode))
	}
	write(keyFailReason, orNA(j.FailReason))

	unknownKeys := make([]string, 0, len(j.Unknown))
	for k := range j.Unknown {
		unknownKeys = append(unknownKeys, k)
	}
	sort.Strings(unknownKeys)
	for _, k := range unknownKeys {
		write(k, j.Unknown[k])
	}

	return buf.Bytes()
}

// Unmarshal parses KEY=VALUE lines into a Job. Blank lines are skipped.
// Malformed lines (no '=') are ignored rather than rejected, matching the
// parser's forward-compatibility contract. Unrecognized keys are preserved
// in Job.Unknown.
func Unmarshal(data []byte) (*Job, error) {
	j := &Job{Unknown: map[string]string{}}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if err := j.assign(key, value); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, werrors.Wrap(werrors.CodeInternal, "scanning job record", err)
	}

	return j, nil
}

func (j *Job) assign(key, value string) error {
	switch key {
	case keyJobID:
		j.JobID = value
	case keyName:
		j.Name = value
	case keyUser:
		j.User = value
	case keyScriptName:
		j.ScriptName = value
	case keyWeight:
		n, err := strconv.Atoi(value)
		if err != nil {
			return werrors.NewValidationError(keyWeight, "must be an integer")
		}
		j.Weight = n
	case keyGPUSpec:
		j.GPUSpec = value
	case keyCPUSpec:
		j.CPUSpec = value
	case keyMemorySpec:
		j.MemorySpec = value
	case keyPriority:
		j.Priority = Priority(value)
	case keyTimeout:
		j.TimeoutRaw = value
	case keyDependencies:
		j.Dependencies = splitNonEmpty(value)
	case keyRetryMax:
		j.RetryMax, _ = strconv.Atoi(value)
	case keyRetryDelay:
		j.RetryDelaySeconds, _ = strconv.Atoi(value)
	case keyRetryOn:
		j.RetryOn = parseInts(value)
	case keyRetryCount:
		j.RetryCount, _ = strconv.Atoi(value)
	case keyPreHook:
		j.PreHook = value
	case keyPostHook:
		j.PostHook = value
	case keyOnFail:
		j.OnFail = value
	case keyOnSuccess:
		j.OnSuccess = value
	case keyProject:
		j.Project = value
	case keyGroup:
		j.Group = value
	case keySubmitTime:
		j.SubmitTime = parseTimeOrZero(value)
	case keyQueueTime:
		j.QueueTime = parseTimeOrZero(value)
	case keyStartTime:
		j.StartTime = parseTimeOrZero(value)
	case keyEndTime:
		j.EndTime = parseTimeOrZero(value)
	case keyPID:
		j.PID, _ = strconv.Atoi(value)
	case keyStatus:
		j.Status = Status(value)
	case keyExitCode:
		n, err := strconv.Atoi(value)
		if err == nil {
			j.ExitCode = &n
		}
	case keyFailReason:
		j.FailReason = value
	default:
		j.Unknown[key] = value
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return NA
	}
	return s
}

func joinInts(vals []int) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func parseInts(s string) []int {
	s = strings.TrimSpace(s)
	if s == "" || s == NA || strings.EqualFold(s, "any") {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func splitNonEmpty(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == NA {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
