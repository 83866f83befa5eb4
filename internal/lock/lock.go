// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package lock implements the Lock Manager: three named exclusive locks
// (QueueDrain, Scheduler, IdGen) backed by advisory file locks where
// available and directory-creation locks as a universal fallback, per the
// concurrency model's ordering rule Scheduler > IdGen > QueueDrain.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	werrors "github.com/jontk/wjm/pkg/errors"
)

// Name identifies one of the three named locks.
type Name string

const (
	NameQueueDrain Name = "QueueDrain"
	NameScheduler  Name = "Scheduler"
	NameIdGen      Name = "IdGen"
)

// rank encodes the required acquisition ordering: a holder may only acquire
// a lock whose rank is lower than or equal to any lock it already holds. An
// equal rank means the same lock, and that acquisition waits on the backend.
var rank = map[Name]int{
	NameScheduler:  3,
	NameIdGen:      2,
	NameQueueDrain: 1,
}

// Locker is the minimal contract a lock backend must satisfy: blocking
// acquisition with a context deadline, non-blocking TryLock, and idempotent
// release.
type Locker interface {
	Lock(ctx context.Context) error
	TryLock() (bool, error)
	Unlock() error
}

// Manager exposes the three named locks over a chosen backend and enforces
// the decreasing-rank acquisition order unless WJM_STRICT_LOCK_ORDER=0.
type Manager struct {
	dir     string
	backend func(path string) Locker

	mu     sync.Mutex
	held   map[string]int // per-goroutine-unaware; tracks ranks held process-wide
	strict bool
}

// New builds a Manager rooted at lockDir (typically
// <JOB_DIR>/../.scheduler_state/locks). backend selects flockLocker or
// dirLocker; nil picks the best available for the current platform.
func New(lockDir string, backend func(path string) Locker) *Manager {
	if backend == nil {
		backend = defaultBackend
	}
	return &Manager{
		dir:     lockDir,
		backend: backend,
		held:    map[string]int{},
		strict:  os.Getenv("WJM_STRICT_LOCK_ORDER") != "0",
	}
}

func defaultBackend(path string) Locker {
	if os.Getenv("WJM_LOCK_BACKEND") == "dir" {
		return newDirLocker(path)
	}
	if l, ok := newFlockLocker(path); ok {
		return l
	}
	return newDirLocker(path)
}

func (m *Manager) path(name Name) string {
	return filepath.Join(m.dir, string(name)+".lock")
}

func (m *Manager) checkOrder(name Name) error {
	if !m.strict {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	want := rank[name]
	for held, r := range m.held {
		if r < want {
			return werrors.New(werrors.CodeInternal, "lock ordering violation: attempted to acquire "+string(name)+" while holding "+held)
		}
	}
	return nil
}

func (m *Manager) markHeld(name Name) {
	m.mu.Lock()
	m.held[string(name)] = rank[name]
	m.mu.Unlock()
}

func (m *Manager) markReleased(name Name) {
	m.mu.Lock()
	delete(m.held, string(name))
	m.mu.Unlock()
}

// Handle is a held lock; Release is idempotent and safe to call multiple
// times or via defer on every exit path.
type Handle struct {
	m      *Manager
	name   Name
	locker Locker
	once   sync.Once
}

// Release unlocks the underlying backend and updates ordering bookkeeping.
// Safe to call more than once.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		err = h.locker.Unlock()
		h.m.markReleased(h.name)
	})
	return err
}

// AcquireScheduler blocks up to timeout (default 30s) to acquire the
// Scheduler lock, the admission-plus-dispatch critical section.
func (m *Manager) AcquireScheduler(ctx context.Context, timeout time.Duration) (*Handle, error) {
	return m.acquireBlocking(ctx, NameScheduler, timeout)
}

// AcquireIdGen blocks up to timeout (default 30s) to acquire the IdGen lock.
func (m *Manager) AcquireIdGen(ctx context.Context, timeout time.Duration) (*Handle, error) {
	return m.acquireBlocking(ctx, NameIdGen, timeout)
}

// AcquireQueueDrain attempts the QueueDrain lock non-blocking: if another
// drainer holds it, ok is false and the caller should exit silently.
func (m *Manager) AcquireQueueDrain() (handle *Handle, ok bool, err error) {
	if err := m.checkOrder(NameQueueDrain); err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, false, werrors.WrapOSError(err)
	}

	locker := m.backend(m.path(NameQueueDrain))
	acquired, err := locker.TryLock()
	if err != nil {
		return nil, false, werrors.WrapOSError(err)
	}
	if !acquired {
		return nil, false, nil
	}
	m.markHeld(NameQueueDrain)
	return &Handle{m: m, name: NameQueueDrain, locker: locker}, true, nil
}

func (m *Manager) acquireBlocking(ctx context.Context, name Name, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := m.checkOrder(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, werrors.WrapOSError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locker := m.backend(m.path(name))
	if err := locker.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, werrors.New(werrors.CodeConcurrency, string(name)+" lock acquisition timed out").WithDetails(timeout.String())
		}
		return nil, werrors.WrapOSError(err)
	}

	m.markHeld(name)
	return &Handle{m: m, name: name, locker: locker}, nil
}
