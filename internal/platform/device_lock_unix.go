//go:build unix && !windows

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

type unixDeviceLock struct {
	file *os.File
}

func acquireDeviceLock(name string) (DeviceLock, error) {
	lockPath, err := unixDeviceLockPath(name)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- lockPath is built from process-owned runtime/temp directories.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open device lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrDeviceLocked
		}

		return nil, fmt.Errorf("acquire device file lock: %w", err)
	}

	return &unixDeviceLock{file: file}, nil
}

func (l *unixDeviceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil && !errors.Is(unlockErr, syscall.EBADF) {
		return fmt.Errorf("unlock device file lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close device lock file: %w", closeErr)
	}

	return nil
}

// unixDeviceLockPath prefers XDG_RUNTIME_DIR and falls back to a per-uid
// directory under the system temp dir.
func unixDeviceLockPath(name string) (string, error) {
	lockDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if lockDir != "" {
		lockDir = filepath.Join(lockDir, "tailtest")
	} else {
		lockDir = filepath.Join(os.TempDir(), "tailtest-"+strconv.Itoa(os.Getuid()))
	}

	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return "", fmt.Errorf("create device lock dir: %w", err)
	}

	return filepath.Join(lockDir, name+".lock"), nil
}
