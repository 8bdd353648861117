// Package errdefs defines the error kinds a provisioning run can fail with.
//
// Callers classify failures with errors.Is against the sentinels below.
// Packages wrap the sentinel rather than returning it bare, so messages stay
// specific while the kind stays checkable:
//
//	return errdefs.ConfigInvalid("storage layout %q not configured", name)
//
//	if errors.Is(err, errdefs.ErrResourceConflict) { ... }
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigInvalid is a bad or missing configuration value. Detected
	// during pre-flight tests, never during execution.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrResourceConflict means storage or a domain configuration that the
	// run would create already exists.
	ErrResourceConflict = errors.New("resource already exists")

	// ErrFetchExhausted means no mirror yielded the requested archive.
	ErrFetchExhausted = errors.New("all mirrors exhausted")

	// ErrSubprocess is an external command that exited non-zero.
	ErrSubprocess = errors.New("subprocess failed")

	// ErrFilesystemPrecondition is a host filesystem state the run depends on
	// (for example an empty host package tree with the inherit policy).
	ErrFilesystemPrecondition = errors.New("filesystem precondition not met")

	// ErrMount is a failed mount or unmount syscall.
	ErrMount = errors.New("mount operation failed")

	// ErrUnsupportedStorageKind is returned by the storage factory for an
	// unknown kind tag.
	ErrUnsupportedStorageKind = errors.New("unsupported storage kind")
)

// ConfigInvalid returns an error wrapping ErrConfigInvalid.
func ConfigInvalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// ResourceConflict returns an error wrapping ErrResourceConflict.
func ResourceConflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceConflict, fmt.Sprintf(format, args...))
}

// FetchExhausted returns an error wrapping ErrFetchExhausted.
func FetchExhausted(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFetchExhausted, fmt.Sprintf(format, args...))
}

// FilesystemPrecondition returns an error wrapping ErrFilesystemPrecondition.
func FilesystemPrecondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFilesystemPrecondition, fmt.Sprintf(format, args...))
}

// Mount wraps a syscall error from a mount operation with ErrMount.
func Mount(op, target string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrMount, op, target, err)
}
