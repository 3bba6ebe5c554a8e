package cortex

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/srediag/cortex/internal/metrics"
)

// Class tells whether a failed operation left kernel resources behind.
type Class uint8

const (
	// Clean failures leave every resource the call touched in its pre-call state.
	Clean Class = iota
	// Dirty failures left at least one segment or semaphore set allocated with no handle
	// responsible for removing it. Manual cleanup (see RemoveSegment) may be needed.
	Dirty
)

func (c Class) String() string {
	switch c {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	default:
		return "unknown"
	}
}

var (
	// ErrKeyStrategy means the builder got neither or both of Key and RandomKey.
	ErrKeyStrategy = errors.New("exactly one of Key or RandomKey must be set")
	// ErrForceRandomKey means ForceOwnership was combined with RandomKey.
	ErrForceRandomKey = errors.New("force ownership requires an explicit key")
	// ErrPrivateKey means key 0 was given. The kernel reads it as IPC_PRIVATE and
	// creates an unnamed object no other process can find.
	ErrPrivateKey = errors.New("key 0 is IPC_PRIVATE and names no shared object")
	// ErrKeySpaceExhausted means random allocation hit a taken key on every attempt.
	ErrKeySpaceExhausted = errors.New("no free key found")
	// ErrNotPlainData means T holds pointers, slices, strings or other references.
	ErrNotPlainData = errors.New("type holds pointers and cannot live in shared memory")
	// ErrZeroSize means T occupies no memory.
	ErrZeroSize = errors.New("type has zero size")
	// ErrClosed is returned by accesses through a closed handle.
	ErrClosed = errors.New("handle is closed")
)

// Error is returned by every fallible cortex operation.
type Error struct {
	Class Class
	// Op is the step that failed, usually the syscall name.
	Op  string
	Key Key
	// Errno is the kernel error code, zero when no syscall failed.
	Errno syscall.Errno
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cortex: %s system error: %s", e.Class, e.Msg)
	}
	return fmt.Sprintf("cortex: %s system error: %s. OS error: %v", e.Class, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kernel errno so errors.Is(err, syscall.EEXIST) works even when Err is a sentinel.
func (e *Error) Is(target error) bool {
	errno, ok := target.(syscall.Errno)
	return ok && e.Errno != 0 && errno == e.Errno
}

// IsClean reports whether err is a cortex failure that left nothing behind.
func IsClean(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == Clean
}

// IsDirty reports whether err is a cortex failure that leaked kernel resources.
func IsDirty(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == Dirty
}

func newError(class Class, op string, key Key, err error, format string, args ...any) *Error {
	e := &Error{
		Class: class,
		Op:    op,
		Key:   key,
		Msg:   fmt.Sprintf(format, args...),
		Err:   err,
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	metrics.Default.Errors.WithLabelValues(class.String()).Inc()
	return e
}

func newClean(op string, key Key, err error, format string, args ...any) *Error {
	return newError(Clean, op, key, err, format, args...)
}

func newDirty(op string, key Key, err error, format string, args ...any) *Error {
	return newError(Dirty, op, key, err, format, args...)
}

// asError passes *Error through and classifies anything else, e.g. from a custom Locker, as Clean.
func asError(op string, key Key, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newClean(op, key, err, "Error during %s", op)
}

// dirtyAfter upgrades cause to Dirty because cleaning up after it failed.
func dirtyAfter(op string, key Key, cause, cleanupErr error) *Error {
	return newDirty(op, key, errors.Join(cause, cleanupErr), "Error cleaning up after failed %s", op)
}
