// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// lockFileName lives inside the conference state directory. Its presence
// serializes writers: concurrent runs against the same conference are
// rejected, not queued.
const lockFileName = ".confpipe.lock"

type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock is a held single-writer lock on a conference state directory
type FileLock struct {
	path string
}

// AcquireLock takes the single-writer lock for dir. A lock held by a process
// that no longer exists is reclaimed; a lock held by a live process is an
// error that names the holder.
func AcquireLock(dir string) (*FileLock, error) {
	path := filepath.Join(dir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		err := writeLockFile(path)
		if err == nil {
			return &FileLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		holder, readErr := readLockFile(path)
		if readErr != nil {
			// Unreadable lock: treat as stale and reclaim once.
			getLog().Warn().Str("lock", path).Err(readErr).Msg("Removing unreadable lock file")
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove unreadable lock file: %w", rmErr)
			}
			continue
		}

		if processAlive(holder.PID) {
			return nil, fmt.Errorf("another run holds the lock (pid %d since %s); concurrent runs against the same conference are not supported",
				holder.PID, holder.AcquiredAt.Format(time.RFC3339))
		}

		getLog().Warn().Int("pid", holder.PID).Str("lock", path).Msg("Reclaiming lock from dead process")
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to reclaim stale lock: %w", rmErr)
		}
	}

	return nil, fmt.Errorf("failed to acquire lock at %s after reclaim", path)
}

// Release removes the lock file
func (l *FileLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func writeLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	info := lockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return nil
}

func readLockFile(path string) (*lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	if info.PID <= 0 {
		return nil, fmt.Errorf("lock file has no pid")
	}
	return &info, nil
}

// processAlive probes the pid with signal 0. EPERM still means the process
// exists, just under another user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
