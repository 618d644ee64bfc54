package infrastructure

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// LockFileName is created in every install root while an engine runs
const LockFileName = ".gameinstall.lock"

// LocalVolumes answers filesystem questions about install roots
type LocalVolumes struct{}

// NewLocalVolumes creates a LocalVolumes
func NewLocalVolumes() *LocalVolumes {
	return &LocalVolumes{}
}

// FreeSpace returns the bytes available to the current user on the volume
// holding path. A path that does not exist yet is resolved through its
// nearest existing ancestor.
func (v *LocalVolumes) FreeSpace(path string) (uint64, error) {
	existing, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}
	usage, err := disk.Usage(existing)
	if err != nil {
		return 0, fmt.Errorf("failed to check disk space on %s: %w", existing, err)
	}
	return usage.Free, nil
}

// SameVolume reports whether a and b live on the same filesystem, which
// hard links require
func (v *LocalVolumes) SameVolume(a, b string) (bool, error) {
	ea, err := existingAncestor(a)
	if err != nil {
		return false, err
	}
	eb, err := existingAncestor(b)
	if err != nil {
		return false, err
	}
	return sameVolume(ea, eb)
}

// Lock takes the exclusive install lock of root. It fails with
// ErrInstallInProgress when another process holds it.
func (v *LocalVolumes) Lock(root string) (*InstallLock, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create install directory: %w", err)
	}

	path := filepath.Join(root, LockFileName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked by another process", domain.ErrInstallInProgress, root)
	}
	return &InstallLock{lock: lock, path: path}, nil
}

// InstallLock is a held install root lock
type InstallLock struct {
	lock *flock.Flock
	path string
}

// Path returns the lock file path
func (l *InstallLock) Path() string {
	return l.path
}

// Unlock releases the lock and removes the lock file
func (l *InstallLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%w: no existing ancestor of %s", domain.ErrNotFound, path)
		}
		abs = parent
	}
}
