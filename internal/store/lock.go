package store

import (
	"os"
	"path/filepath"
)

// FileLock is an advisory lock held on a sidecar "<path>.lock" file. The
// document itself is replaced by rename on every write, so locking its inode
// would not exclude other writers.
type FileLock struct {
	f *os.File
}

// LockFile blocks until the advisory lock for path is held.
func LockFile(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, &Error{Op: "create lock dir", Path: lockPath, Err: err}
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &Error{Op: "open lock", Path: lockPath, Err: err}
	}
	if err := flock(f); err != nil {
		f.Close()
		return nil, &Error{Op: "lock", Path: lockPath, Err: err}
	}
	return &FileLock{f: f}, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := funlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
