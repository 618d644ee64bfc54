package domain

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrUnsupportedOperation is returned before any queue work when the
	// manifest or the filesystem cannot support the requested task
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrChecksumMismatch means a file's MD5 differs from the manifest
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNotFound means a prerequisite local file or directory is missing
	ErrNotFound = errors.New("not found")

	// ErrInstallInProgress is returned when a title already has an engine
	ErrInstallInProgress = errors.New("install already in progress")

	// ErrDuplicatePath means two items of one plan target the same file
	ErrDuplicatePath = errors.New("duplicate item path")

	// ErrCanceled is reported when an engine is torn down by Cancel
	ErrCanceled = errors.New("install canceled")

	// ErrUnsafePath means a remote file name resolves outside the install root
	ErrUnsafePath = errors.New("path escapes install root")

	// ErrRangeNotSatisfiable means the requested offset is past the remote
	// file, so the local partial file cannot be a prefix of it
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
)

// TransientNetworkError wraps HTTP failures that are worth retrying
type TransientNetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable network failure
func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

// DiskSpaceError reports an install volume without enough free space
type DiskSpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("not enough disk space on %s: required %s, available %s",
		e.Path, humanize.IBytes(e.Required), humanize.IBytes(e.Available))
}

// UserMessage derives a user-facing message from the error kind
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var diskErr *DiskSpaceError
	switch {
	case errors.As(err, &diskErr):
		return fmt.Sprintf("Not enough disk space: %s required, %s available.",
			humanize.IBytes(diskErr.Required), humanize.IBytes(diskErr.Available))
	case errors.Is(err, ErrChecksumMismatch):
		return "Downloaded files are corrupted. Please try again."
	case errors.Is(err, ErrUnsupportedOperation):
		return "This operation is not supported for this game."
	case errors.Is(err, ErrNotFound):
		return "Required game files could not be found."
	case errors.Is(err, ErrInstallInProgress):
		return "An installation for this game is already running."
	case errors.Is(err, ErrUnsafePath):
		return "The game server sent an invalid file list."
	case errors.Is(err, ErrCanceled):
		return "Installation was canceled."
	case IsTransient(err):
		return "Network error. Check your connection and try again."
	default:
		return "Installation failed due to an unexpected error."
	}
}
