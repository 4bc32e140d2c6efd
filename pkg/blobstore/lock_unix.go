//go:build unix

// Copyright (c) 2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// acquireLockFile creates a PID-stamped lock file at path, stealing it from
// a dead process if the PID it names no longer exists.
func acquireLockFile(path string) error {
	dir, fn := filepath.Split(path)
	lockfn := filepath.Join(dir, fn)

	lockfile, err := os.OpenFile(lockfn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if os.IsExist(err) {
		content, readErr := os.ReadFile(lockfn)
		if readErr != nil {
			return readErr
		}

		if pid, convErr := strconv.Atoi(string(content)); convErr == nil {
			if syscall.Kill(pid, 0) == nil {
				return ErrLocked
			}
		}

		tmp, tmpErr := os.CreateTemp(dir, "lock")
		if tmpErr != nil {
			return tmpErr
		}
		if _, writeErr := tmp.WriteString(strconv.Itoa(os.Getpid())); writeErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("blobstore: %w", ErrLockAcquirement)
		}
		curfn := tmp.Name()
		if closeErr := tmp.Close(); closeErr != nil {
			return closeErr
		}
		if renameErr := os.Rename(curfn, lockfn); renameErr != nil {
			os.Remove(curfn)
			return fmt.Errorf("blobstore: %w", ErrLockAcquirement)
		}
		return nil
	} else if err != nil {
		return err
	}

	defer lockfile.Close()
	_, err = lockfile.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

// releaseLockFile removes the lock file at path.
func releaseLockFile(path string) error {
	return os.Remove(path)
}
