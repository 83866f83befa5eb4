// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"strconv"
	"strings"
	"time"
)

// QueueEntry is the sidecar-backed representation of a QUEUED job: the
// script body plus one small file per attribute, mirrored here as a single
// in-memory struct for callers. SidecarExt enumerates the attribute-file
// suffixes used under <QUEUE_DIR>/job_NNN.<ext>.
//
// Every field the Directive Parser resolves at submission time is carried
// here, not just the fields Admission needs, so a later dispatch restores
// the job exactly as submitted instead of re-parsing a script body that has
// already had its directive header stripped.
type QueueEntry struct {
	JobID        string
	Weight       int
	GPUSpec      string
	CPUSpec      string
	MemorySpec   string
	Priority     Priority
	Dependencies []string
	SubmitTime   time.Time
	Name         string
	QueueReason  string
	User         string
	ScriptName   string

	TimeoutRaw        string
	RetryMax          int
	RetryDelaySeconds int
	RetryOn           []int

	PreHook   string
	PostHook  string
	OnFail    string
	OnSuccess string

	Project string
	Group   string
}

// SidecarExt names one queue-entry attribute file extension.
type SidecarExt string

const (
	SidecarWeight     SidecarExt = "weight"
	SidecarGPU        SidecarExt = "gpu"
	SidecarCPU        SidecarExt = "cpu"
	SidecarMemory     SidecarExt = "memory"
	SidecarPriority   SidecarExt = "priority"
	SidecarDepends    SidecarExt = "depends"
	SidecarSubmitTime SidecarExt = "submit_time"
	SidecarName       SidecarExt = "name"
	SidecarReason     SidecarExt = "reason"
	SidecarUser       SidecarExt = "user"
	SidecarScriptName SidecarExt = "script_name"
	SidecarTimeout    SidecarExt = "timeout"
	SidecarRetryMax   SidecarExt = "retry_max"
	SidecarRetryDelay SidecarExt = "retry_delay"
	SidecarRetryOn    SidecarExt = "retry_on"
	SidecarPreHook    SidecarExt = "pre_hook"
	SidecarPostHook   SidecarExt = "post_hook"
	SidecarOnFail     SidecarExt = "on_fail"
	SidecarOnSuccess  SidecarExt = "on_success"
	SidecarProject    SidecarExt = "project"
	SidecarGroup      SidecarExt = "group"
)

// AllSidecarExts lists every sidecar a queue entry may carry; reading and
// removing a queue entry walk this list. Order has no semantic meaning.
var AllSidecarExts = []SidecarExt{
	SidecarWeight, SidecarGPU, SidecarCPU, SidecarMemory, SidecarPriority,
	SidecarDepends, SidecarSubmitTime, SidecarName, SidecarReason,
	SidecarUser, SidecarScriptName, SidecarTimeout, SidecarRetryMax,
	SidecarRetryDelay, SidecarRetryOn, SidecarPreHook, SidecarPostHook,
	SidecarOnFail, SidecarOnSuccess, SidecarProject, SidecarGroup,
}

// Sidecars renders e's attributes as ext -> file-content pairs, ready to be
// written one-per-file via atomic temp-then-rename.
func (e *QueueEntry) Sidecars() map[SidecarExt]string {
	out := map[SidecarExt]string{
		SidecarWeight:     strconv.Itoa(e.Weight),
		SidecarGPU:        orNA(e.GPUSpec),
		SidecarCPU:        orNA(e.CPUSpec),
		SidecarMemory:     orNA(e.MemorySpec),
		SidecarPriority:   string(e.Priority),
		SidecarDepends:    strings.Join(e.Dependencies, ","),
		SidecarReason:     e.QueueReason,
		SidecarUser:       e.User,
		SidecarScriptName: e.ScriptName,
		SidecarTimeout:    orNA(e.TimeoutRaw),
		SidecarRetryMax:   strconv.Itoa(e.RetryMax),
		SidecarRetryDelay: strconv.Itoa(e.RetryDelaySeconds),
		SidecarRetryOn:    joinInts(e.RetryOn),
		SidecarPreHook:    orNA(e.PreHook),
		SidecarPostHook:   orNA(e.PostHook),
		SidecarOnFail:     orNA(e.OnFail),
		SidecarOnSuccess:  orNA(e.OnSuccess),
		SidecarProject:    orNA(e.Project),
		SidecarGroup:      orNA(e.Group),
	}
	if !e.SubmitTime.IsZero() {
		out[SidecarSubmitTime] = e.SubmitTime.Format(timeLayout)
	}
	if e.Name != "" {
		out[SidecarName] = e.Name
	}
	return out
}

// QueueEntryFromSidecars reconstructs a QueueEntry from its sidecar file
// contents, keyed by extension. Missing sidecars yield zero values for that
// field rather than an error, matching the forward-compatible parsing
// contract used for job.info.
func QueueEntryFromSidecars(jobID string, sidecars map[SidecarExt]string) *QueueEntry {
	e := &QueueEntry{JobID: jobID}

	if v, ok := sidecars[SidecarWeight]; ok {
		e.Weight, _ = strconv.Atoi(v)
	}
	if v, ok := sidecars[SidecarGPU]; ok {
		e.GPUSpec = v
	}
	if v, ok := sidecars[SidecarCPU]; ok {
		e.CPUSpec = v
	}
	if v, ok := sidecars[SidecarMemory]; ok {
		e.MemorySpec = v
	}
	if v, ok := sidecars[SidecarPriority]; ok {
		e.Priority = Priority(v)
	}
	if v, ok := sidecars[SidecarDepends]; ok {
		e.Dependencies = splitNonEmpty(v)
	}
	if v, ok := sidecars[SidecarSubmitTime]; ok {
		e.SubmitTime = parseTimeOrZero(v)
	}
	if v, ok := sidecars[SidecarName]; ok {
		e.Name = v
	}
	if v, ok := sidecars[SidecarReason]; ok {
		e.QueueReason = v
	}
	if v, ok := sidecars[SidecarUser]; ok {
		e.User = v
	}
	if v, ok := sidecars[SidecarScriptName]; ok {
		e.ScriptName = v
	}
	if v, ok := sidecars[SidecarTimeout]; ok {
		e.TimeoutRaw = v
	}
	if v, ok := sidecars[SidecarRetryMax]; ok {
		e.RetryMax, _ = strconv.Atoi(v)
	}
	if v, ok := sidecars[SidecarRetryDelay]; ok {
		e.RetryDelaySeconds, _ = strconv.Atoi(v)
	}
	if v, ok := sidecars[SidecarRetryOn]; ok {
		e.RetryOn = splitInts(v)
	}
	if v, ok := sidecars[SidecarPreHook]; ok {
		e.PreHook = v
	}
	if v, ok := sidecars[SidecarPostHook]; ok {
		e.PostHook = v
	}
	if v, ok := sidecars[SidecarOnFail]; ok {
		e.OnFail = v
	}
	if v, ok := sidecars[SidecarOnSuccess]; ok {
		e.OnSuccess = v
	}
	if v, ok := sidecars[SidecarProject]; ok {
		e.Project = v
	}
	if v, ok := sidecars[SidecarGroup]; ok {
		e.Group = v
	}

	return e
}

// ToJob projects a QueueEntry into the Job fields it's able to populate.
func (e *QueueEntry) ToJob() *Job {
	return &Job{
		JobID:             e.JobID,
		Name:              e.Name,
		User:              e.User,
		ScriptName:        e.ScriptName,
		Weight:            e.Weight,
		GPUSpec:           e.GPUSpec,
		CPUSpec:           e.CPUSpec,
		MemorySpec:        e.MemorySpec,
		Priority:          e.Priority,
		Dependencies:      e.Dependencies,
		SubmitTime:        e.SubmitTime,
		QueueTime:         time.Now(),
		Status:            StatusQueued,
		TimeoutRaw:        e.TimeoutRaw,
		RetryMax:          e.RetryMax,
		RetryDelaySeconds: e.RetryDelaySeconds,
		RetryOn:           e.RetryOn,
		PreHook:           e.PreHook,
		PostHook:          e.PostHook,
		OnFail:            e.OnFail,
		OnSuccess:         e.OnSuccess,
		Project:           e.Project,
		Group:             e.Group,
		Unknown:           map[string]string{},
	}
}

func joinInts(codes []int) string {
	if len(codes) == 0 {
		return ""
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

func splitInts(value string) []int {
	var codes []int
	for _, part := range splitNonEmpty(value) {
		if n, err := strconv.Atoi(part); err == nil {
			codes = append(codes, n)
		}
	}
	return codes
}
