// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the Job Supervisor: the runtime each
// admitted child is wrapped in, detached from its starter's controlling
// terminal, covering setup, hooks, CPU/memory/timeout wrapping, the retry
// loop, finalize, and the pause/resume/kill/signal primitives.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jontk/wjm/internal/directive"
	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/internal/resource"
	"github.com/jontk/wjm/internal/store"
	"github.com/jontk/wjm/pkg/logging"
	"github.com/jontk/wjm/pkg/retry"
)

// sigkillGrace is the delay between SIGTERM and the follow-up SIGKILL once a
// job's timeout elapses.
const sigkillGrace = 10 * time.Second

// Supervisor runs and supervises one job's process lifecycle.
type Supervisor struct {
	store  *store.Store
	logger logging.Logger

	// Drainer is invoked after Finalize frees capacity, wired to the Queue
	// Processor by the command surface to avoid an import cycle (queue
	// imports supervisor to dispatch; supervisor cannot import queue back).
	Drainer func(ctx context.Context)
}

// New builds a Supervisor over s.
func New(s *store.Store, logger logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Supervisor{store: s, logger: logger}
}

// StartParams carries everything Start needs to launch a newly admitted
// job; the record directory must already exist (created by the ID
// Allocator).
type StartParams struct {
	JobID             string
	User              string
	Name              string
	ScriptBody        string
	ScriptName        string
	Weight            int
	GPUSpec           string // resolved explicit ids, e.g. "0,1", or N/A
	CPUSpec           string
	MemorySpec        string
	Priority          record.Priority
	TimeoutRaw        string
	Dependencies      []string
	RetryMax          int
	RetryDelaySeconds int
	RetryOn           []int
	PreHook           string
	PostHook          string
	OnFail            string
	OnSuccess         string
	Project           string
	Group             string
}

// Start writes the initial job.info, launches the wrapper goroutine that
// owns the child for its entire lifecycle, and returns once the pid is
// visible (so the caller can report it as RUNNING immediately).
func (s *Supervisor) Start(ctx context.Context, p StartParams) (*record.Job, error) {
	now := time.Now()
	job := &record.Job{
		JobID:             p.JobID,
		Name:              p.Name,
		User:              p.User,
		ScriptName:        p.ScriptName,
		Weight:            p.Weight,
		GPUSpec:           p.GPUSpec,
		CPUSpec:           p.CPUSpec,
		MemorySpec:        p.MemorySpec,
		Priority:          p.Priority,
		TimeoutRaw:        p.TimeoutRaw,
		Dependencies:      p.Dependencies,
		RetryMax:          p.RetryMax,
		RetryDelaySeconds: p.RetryDelaySeconds,
		RetryOn:           p.RetryOn,
		PreHook:           p.PreHook,
		PostHook:          p.PostHook,
		OnFail:            p.OnFail,
		OnSuccess:         p.OnSuccess,
		Project:           p.Project,
		Group:             p.Group,
		SubmitTime:        now,
		StartTime:         now,
		Status:            record.StatusRunning,
		Unknown:           map[string]string{},
	}

	if err := s.store.WriteCommand(p.JobID, p.ScriptBody); err != nil {
		return nil, err
	}
	if err := s.store.WriteJob(job); err != nil {
		return nil, err
	}

	started := make(chan error, 1)
	go s.run(job, p, started)

	if err := <-started; err != nil {
		return nil, err
	}
	return job, nil
}

// run is the supervisor's main protocol, executed in a background
// goroutine that outlives the caller: pre-hook, body wrapping, retry loop,
// finalize.
func (s *Supervisor) run(job *record.Job, p StartParams, started chan<- error) {
	env := s.childEnv(job)

	if p.PreHook != "" && p.PreHook != record.NA {
		if exitCode := s.runHook(job.JobID, "pre", p.PreHook, env); exitCode != 0 {
			started <- nil
			s.finalizeHookFailure(job, exitCode, env)
			return
		}
	}

	started <- nil

	exitCode, failReason, pid := s.runBodyWithRetry(job, p, env)

	s.finalize(job, exitCode, failReason, pid, p, env)
}

// runBodyWithRetry executes the wrapped body, retrying while CanRetry holds.
// The wait between attempts uses a ConstantBackoff over RETRY_DELAY seconds
// (the same strategy the ID Allocator uses for its collision loop): RETRY_DELAY
// is a directive-specified fixed wait, not a curve, so a constant delay is
// the correct strategy here rather than exponential/linear/fibonacci growth.
func (s *Supervisor) runBodyWithRetry(job *record.Job, p StartParams, env []string) (exitCode int, failReason string, lastPID int) {
	backoff := retry.NewConstantBackoff(time.Duration(p.RetryDelaySeconds)*time.Second, p.RetryMax+1)

	for {
		code, reason, pid := s.runOnce(job, p, env)
		lastPID = pid

		if code == 0 {
			return 0, "", lastPID
		}
		if !job.CanRetry(code) {
			return code, reason, lastPID
		}

		delay, _ := backoff.NextDelay(job.RetryCount)
		job.RetryCount++
		s.store.WriteJob(job)
		s.logger.Info("retrying job", "job_id", job.JobID, "retry_count", job.RetryCount, "exit_code", code)
		time.Sleep(delay)
	}
}

// runOnce executes the job body exactly once, applying CPU affinity, memory
// limits and timeout escalation, and returns its exit code and fail reason.
func (s *Supervisor) runOnce(job *record.Job, p StartParams, env []string) (exitCode int, failReason string, pid int) {
	attemptID := uuid.New().String()
	logger := s.logger.With("job_id", job.JobID, "attempt_id", attemptID, "retry_count", job.RetryCount)

	cmd := exec.Command("/bin/sh", "-c", p.ScriptBody)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logFile, err := os.OpenFile(s.store.LogPath(job.JobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		logger.Warn("spawn failed")
		return -1, "spawn_failed", 0
	}
	pid = cmd.Process.Pid
	s.store.WritePID(job.JobID, pid)
	applyResourceLimitsToPID(pid, p)
	logger.Info("attempt started", "pid", pid)

	var timer *time.Timer
	var killTimer *time.Timer
	timedOut := false

	if p.TimeoutRaw != "" && p.TimeoutRaw != record.NA {
		if d, err := directive.ParseDuration(p.TimeoutRaw); err == nil && d > 0 {
			timer = time.AfterFunc(d, func() {
				timedOut = true
				syscall.Kill(-pid, syscall.SIGTERM)
				killTimer = time.AfterFunc(sigkillGrace, func() {
					syscall.Kill(-pid, syscall.SIGKILL)
				})
			})
		}
	}

	err = cmd.Wait()
	if timer != nil {
		timer.Stop()
	}
	if killTimer != nil {
		killTimer.Stop()
	}

	code := exitCodeFromError(err)
	if timedOut {
		if code != 124 && code != 137 {
			code = 124
		}
		return code, "timeout", pid
	}
	if code != 0 {
		return code, "", pid
	}
	return 0, "", pid
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return -1
}

func (s *Supervisor) finalize(job *record.Job, exitCode int, failReason string, pid int, p StartParams, env []string) {
	if onDisk, err := s.store.ReadJob(job.JobID); err == nil && onDisk.Status == record.StatusKilled {
		// Kill() already wrote the terminal status while the body was
		// exiting from the SIGTERM it sent; don't clobber it with the
		// FAILED transition the signaled exit would otherwise produce.
		s.store.RemovePID(job.JobID)
		if s.Drainer != nil {
			s.Drainer(context.Background())
		}
		return
	}

	job.EndTime = time.Now()
	job.ExitCode = &exitCode
	job.FailReason = failReason

	if exitCode == 0 {
		job.Status = record.StatusCompleted
	} else {
		job.Status = record.StatusFailed
	}

	if job.Status == record.StatusCompleted && p.OnSuccess != "" && p.OnSuccess != record.NA {
		s.runHookBestEffort(job.JobID, "success", p.OnSuccess, env)
	}
	if job.Status == record.StatusFailed && p.OnFail != "" && p.OnFail != record.NA {
		s.runHookBestEffort(job.JobID, "fail", p.OnFail, env)
	}
	if p.PostHook != "" && p.PostHook != record.NA {
		s.runHookBestEffort(job.JobID, "post", p.PostHook, env)
	}

	s.store.WriteJob(job)
	s.store.WriteExitCode(job.JobID, exitCode)
	s.store.RemovePID(job.JobID)

	if s.Drainer != nil {
		s.Drainer(context.Background())
	}
}

func (s *Supervisor) finalizeHookFailure(job *record.Job, exitCode int, env []string) {
	job.Status = record.StatusFailed
	job.FailReason = "pre_hook_failed"
	job.EndTime = time.Now()
	job.ExitCode = &exitCode

	s.store.WriteJob(job)
	s.store.WriteExitCode(job.JobID, exitCode)
	s.store.RemovePID(job.JobID)

	s.logger.Warn("pre-hook failed", "job_id", job.JobID, "exit_code", exitCode)

	if s.Drainer != nil {
		s.Drainer(context.Background())
	}
}

// runHook executes a hook fragment and returns its exit code; used for the
// pre-hook, whose failure is fatal to the job.
func (s *Supervisor) runHook(jobID, hookType, fragment string, env []string) int {
	cmd := exec.Command("/bin/sh", "-c", fragment)
	cmd.Env = append(append([]string{}, env...), "WJM_HOOK_TYPE="+hookType)
	logging.LogHookCall(s.logger, hookType, jobID)
	if err := cmd.Run(); err != nil {
		return exitCodeFromError(err)
	}
	return 0
}

// runHookBestEffort executes post/success/fail hooks; failures are warned,
// never fatal.
func (s *Supervisor) runHookBestEffort(jobID, hookType, fragment string, env []string) {
	if code := s.runHook(jobID, hookType, fragment, env); code != 0 {
		s.logger.Warn("hook failed", "job_id", jobID, "hook_type", hookType, "exit_code", code)
	}
}

// childEnv builds the environment injected into a job's child processes and
// hooks: CUDA_VISIBLE_DEVICES plus WJM_JOB_ID/WJM_JOB_DIR.
func (s *Supervisor) childEnv(job *record.Job) []string {
	env := os.Environ()
	env = append(env, "WJM_JOB_ID="+job.JobID, "WJM_JOB_DIR="+s.store.JobPath(job.JobID))

	ids := resource.ExplicitGPUIDs(job.GPUSpec)
	if len(ids) > 0 {
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = fmt.Sprintf("%d", id)
		}
		env = append(env, "CUDA_VISIBLE_DEVICES="+strings.Join(strs, ","))
	}
	return env
}
