// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"syscall"
	"time"

	"github.com/jontk/wjm/internal/record"
	werrors "github.com/jontk/wjm/pkg/errors"
)

// namedSignals maps the POSIX names accepted by the signal verb to their
// numeric values. SIGSTOP and SIGCONT are listed so they resolve by name,
// but Signal then rejects them, since Pause and Resume own that transition
// and must update job.info's status.
var namedSignals = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGCONT": syscall.SIGCONT,
	"SIGSTOP": syscall.SIGSTOP,
}

// Pause sends SIGSTOP to the job's process group, falling back to the
// single pid if the group signal fails, and transitions the record to
// PAUSED.
func (s *Supervisor) Pause(jobID, caller string) error {
	job, err := s.store.ReadJob(jobID)
	if err != nil {
		return err
	}
	if job.User != caller {
		return werrors.NewOwnershipError(jobID, job.User, caller)
	}
	if job.Status != record.StatusRunning {
		return werrors.New(werrors.CodeValidation, "job is not RUNNING").WithJobID(jobID)
	}

	pid, ok, err := s.store.ReadPID(jobID)
	if err != nil {
		return err
	}
	if !ok {
		return werrors.NewStaleError(jobID, 0)
	}

	if err := syscall.Kill(-pid, syscall.SIGSTOP); err != nil {
		if err := syscall.Kill(pid, syscall.SIGSTOP); err != nil {
			return werrors.WrapOSError(err)
		}
	}

	job.Status = record.StatusPaused
	return s.store.WriteJob(job)
}

// Resume sends SIGCONT to a PAUSED job's process group and transitions it
// back to RUNNING.
func (s *Supervisor) Resume(jobID, caller string) error {
	job, err := s.store.ReadJob(jobID)
	if err != nil {
		return err
	}
	if job.User != caller {
		return werrors.NewOwnershipError(jobID, job.User, caller)
	}
	if job.Status != record.StatusPaused {
		return werrors.New(werrors.CodeValidation, "job is not PAUSED").WithJobID(jobID)
	}

	pid, ok, err := s.store.ReadPID(jobID)
	if err != nil {
		return err
	}
	if !ok {
		return werrors.NewStaleError(jobID, 0)
	}

	if err := syscall.Kill(-pid, syscall.SIGCONT); err != nil {
		if err := syscall.Kill(pid, syscall.SIGCONT); err != nil {
			return werrors.WrapOSError(err)
		}
	}

	job.Status = record.StatusRunning
	return s.store.WriteJob(job)
}

// Kill sends SIGTERM to the job's process group, marks it KILLED, removes
// its pid file, and lets the finalize path invoked by the owning run
// goroutine clean up the rest; callers are responsible for removing any
// matching queue entries (the Queue Processor's purview, not this
// package's).
func (s *Supervisor) Kill(jobID, caller string) error {
	job, err := s.store.ReadJob(jobID)
	if err != nil {
		return err
	}
	if job.User != caller {
		return werrors.NewOwnershipError(jobID, job.User, caller)
	}
	if job.Status.Terminal() {
		return werrors.New(werrors.CodeValidation, "job is already terminal").WithJobID(jobID)
	}

	pid, ok, err := s.store.ReadPID(jobID)
	if err != nil {
		return err
	}
	if ok {
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			syscall.Kill(pid, syscall.SIGTERM)
		}
	}

	job.Status = record.StatusKilled
	job.EndTime = time.Now()
	if err := s.store.WriteJob(job); err != nil {
		return err
	}
	return s.store.RemovePID(jobID)
}

// Signal forwards a named or numeric POSIX signal to the job's pid,
// rejecting SIGSTOP/SIGCONT since those are owned by Pause/Resume.
func (s *Supervisor) Signal(jobID, sig, caller string) error {
	job, err := s.store.ReadJob(jobID)
	if err != nil {
		return err
	}
	if job.User != caller {
		return werrors.NewOwnershipError(jobID, job.User, caller)
	}
	if !job.IsRunningOrPaused() {
		return werrors.New(werrors.CodeValidation, "job is not RUNNING or PAUSED").WithJobID(jobID)
	}

	signum, err := resolveSignal(sig)
	if err != nil {
		return err
	}
	if signum == syscall.SIGSTOP || signum == syscall.SIGCONT {
		return werrors.New(werrors.CodeValidation, "use pause/resume instead of signal for SIGSTOP/SIGCONT")
	}

	pid, ok, err := s.store.ReadPID(jobID)
	if err != nil {
		return err
	}
	if !ok {
		return werrors.NewStaleError(jobID, 0)
	}

	if err := syscall.Kill(pid, signum); err != nil {
		return werrors.WrapOSError(err)
	}
	return nil
}

func resolveSignal(sig string) (syscall.Signal, error) {
	if s, ok := namedSignals[sig]; ok {
		return s, nil
	}
	var n int
	if _, err := fmt.Sscanf(sig, "%d", &n); err == nil && n > 0 {
		return syscall.Signal(n), nil
	}
	return 0, werrors.NewValidationError("signal", fmt.Sprintf("unrecognized signal %q", sig))
}
