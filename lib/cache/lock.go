// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked reports a sandbox already locked by another process.
var ErrLocked = errors.New("cache: sandbox is locked by another process")

// Lock is an exclusive advisory lock on a sandbox root.
type Lock struct {
	file *os.File
}

// Lock takes the sandbox lock without blocking. It fails with
// ErrLocked when another process holds it.
func (d *Dir) Lock() (*Lock, error) {
	path := filepath.Join(d.root, lockFileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, d.root)
		}
		return nil, fmt.Errorf("cache: locking %s: %w", path, err)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. Idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("cache: unlocking: %w", err)
	}
	return closeErr
}
