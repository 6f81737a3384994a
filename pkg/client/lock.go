package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/yuya-takeyama/lansync/internal/walker"
)

var ErrRootLocked = errors.New("sync root is locked by another lansync session")

type rootLock struct {
	flock *flock.Flock
}

func lockRoot(root string) (*rootLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", root, err)
	}

	l := &rootLock{flock: flock.New(filepath.Join(root, walker.LockFileName))}
	locked, err := l.flock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock sync root: %w", err)
	}
	if !locked {
		return nil, ErrRootLocked
	}
	return l, nil
}

func (l *rootLock) Unlock() error {
	// the lock file belongs to whoever holds the lock
	if !l.flock.Locked() {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock sync root: %w", err)
	}

	return os.Remove(l.flock.Path())
}
