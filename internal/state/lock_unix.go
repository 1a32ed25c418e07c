//go:build unix

package state

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"bakonf-go/internal/bakonf"
)

// runLock is an exclusive advisory lock on <store>.lock held for the
// lifetime of an open store. The lock file is left in place on release;
// removing it would let a waiting process lock an unlinked inode.
type runLock struct {
	path string
	f    *os.File
}

// acquireLock takes the lock without blocking. If another process holds it
// the returned error wraps bakonf.ErrStoreLocked.
func acquireLock(path string) (*runLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		// EWOULDBLOCK and EAGAIN are distinct on some older systems.
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			if pid := readPid(path); pid > 0 {
				return nil, fmt.Errorf("%w (pid %d)", bakonf.ErrStoreLocked, pid)
			}
			return nil, bakonf.ErrStoreLocked
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &runLock{path: path, f: f}, nil
}

func (l *runLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	var firstErr error
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		firstErr = fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	if err := l.f.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing lock file: %w", err)
	}
	l.f = nil
	return firstErr
}

func readPid(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
