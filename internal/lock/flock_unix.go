// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd

package lock

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// flockLocker backs a named lock with an advisory unix.Flock on a dedicated
// file, the pattern the retrieved pack uses for OS-level resource
// arbitration (golang.org/x/sys/unix CPU/affinity and lock primitives).
type flockLocker struct {
	path string
	f    *os.File
}

func newFlockLocker(path string) (Locker, bool) {
	return &flockLocker{path: path}, true
}

func (l *flockLocker) open() error {
	if l.f != nil {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	l.f = f
	return nil
}

// Lock blocks (polling on EWOULDBLOCK) until the exclusive flock is
// acquired or ctx is done.
func (l *flockLocker) Lock(ctx context.Context) error {
	if err := l.open(); err != nil {
		return err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock attempts the exclusive flock without blocking.
func (l *flockLocker) TryLock() (bool, error) {
	if err := l.open(); err != nil {
		return false, err
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == unix.EWOULDBLOCK {
		return false, nil
	}
	return false, err
}

// Unlock releases the flock and closes the underlying file descriptor;
// safe to call from any exit path including process crash, since the OS
// releases the flock on file-close regardless.
func (l *flockLocker) Unlock() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}
