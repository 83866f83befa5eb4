// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the Process Registry: the
// .scheduler_state/managed_pids.txt ledger of pids recorded through
// Register, used by `doctor` to find and reap orphans whose owning job
// record is gone or terminal. The supervisor does not call Register, so
// pids it spawns appear here only if something else registers them.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jontk/wjm/internal/store"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/jontk/wjm/pkg/logging"
)

// Entry is one managed process: the job it belongs to, its pid, and when
// the registry first saw it.
type Entry struct {
	JobID        string
	PID          int
	RegisteredAt time.Time
}

// Registry is a mutex-guarded, keyed ledger of managed pids, mirrored to a
// flat file so it survives process restarts.
type Registry struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry // keyed by JobID
	logger  logging.Logger
}

// New builds a Registry backed by path, loading any existing entries.
func New(path string, logger logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	r := &Registry{path: path, entries: map[string]Entry{}, logger: logger}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return werrors.WrapOSError(err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		r.entries[fields[0]] = Entry{JobID: fields[0], PID: pid, RegisteredAt: time.Unix(ts, 0)}
	}
	return nil
}

// Register records jobID's pid and persists the registry.
func (r *Registry) Register(jobID string, pid int) error {
	r.mu.Lock()
	r.entries[jobID] = Entry{JobID: jobID, PID: pid, RegisteredAt: time.Now()}
	r.mu.Unlock()
	return r.persist()
}

// Unregister removes jobID's entry, if present, and persists the registry.
func (r *Registry) Unregister(jobID string) error {
	r.mu.Lock()
	delete(r.entries, jobID)
	r.mu.Unlock()
	return r.persist()
}

// List returns a stable-ordered snapshot of every registered entry.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

func (r *Registry) persist() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, e := range r.entries {
		fmt.Fprintf(&b, "%s %d %d\n", e.JobID, e.PID, e.RegisteredAt.Unix())
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return werrors.WrapOSError(err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return werrors.WrapOSError(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return werrors.WrapOSError(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return werrors.WrapOSError(err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return werrors.WrapOSError(err)
	}
	return nil
}

// ReapResult summarizes one doctor pass.
type ReapResult struct {
	Reaped  []Entry // orphans whose process was signalled and entry removed
	Skipped []Entry // still owned by a live, non-terminal job
}

// Reap scans the registry against the state store: an entry is an orphan
// if its job record is missing, terminal, or its pid is no longer alive.
// Orphaned but still-alive processes are sent SIGKILL before their entry is
// dropped.
func (r *Registry) Reap(s *store.Store) (*ReapResult, error) {
	result := &ReapResult{}

	for _, e := range r.List() {
		job, err := s.ReadJob(e.JobID)
		orphan := false
		switch {
		case werrors.IsCode(err, werrors.CodeNotFound):
			orphan = true
		case err != nil:
			return nil, err
		case job.Status.Terminal():
			orphan = true
		case !processAlive(e.PID):
			orphan = true
		}

		if !orphan {
			result.Skipped = append(result.Skipped, e)
			continue
		}

		if processAlive(e.PID) {
			syscall.Kill(e.PID, syscall.SIGKILL)
			r.logger.Warn("reaped orphaned process", "job_id", e.JobID, "pid", e.PID)
		}
		if err := r.Unregister(e.JobID); err != nil {
			return nil, err
		}
		result.Reaped = append(result.Reaped, e)
	}

	return result, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

