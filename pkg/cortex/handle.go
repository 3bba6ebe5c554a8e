package cortex

import (
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/srediag/cortex/internal/logging"
	"github.com/srediag/cortex/internal/metrics"
)

// Handle is a typed view of a value of type T stored in a System-V shared memory segment.
//
// Every access goes through the handle's Locker, so cooperating handles in any process
// see mutually exclusive access windows. Nothing checks that T matches the type the
// creator used: all parties must agree on T.
//
// Close releases the handle. A handle dropped without Close is torn down by the garbage
// collector; failures there are logged at error level since no caller can receive them.
type Handle[T any] struct {
	mu      sync.RWMutex
	res     *resources
	tel     telemetry
	cleanup runtime.Cleanup
	closed  bool
}

// resources is what teardown needs. It must not point back at the Handle.
type resources struct {
	key  Key
	seg  *segment
	lock Locker
}

// New creates a segment and semaphore lock for value under key. A nil settings uses
// DefaultSemaphoreSettings.
func New[T any](key Key, value T, settings *SemaphoreSettings) (*Handle[T], error) {
	b := NewBuilder(value).Key(key)
	if settings == nil {
		return b.WithDefaultLock()
	}
	return b.WithLock(*settings)
}

// Attach maps the existing segment for key and joins its semaphore lock. T must be the
// type the segment was created with; only its size can be checked.
func Attach[T any](key Key) (*Handle[T], error) {
	return AttachWith[T](key, DefaultSemaphoreSettings())
}

// AttachWith is Attach with a caller-supplied lock provider.
func AttachWith[T any](key Key, provider LockProvider) (*Handle[T], error) {
	if err := checkKey("attach", key); err != nil {
		return nil, err
	}
	size, err := sizeOf[T](key)
	if err != nil {
		return nil, err
	}
	tel := newTelemetry(nil, nil)
	_, span := tel.start("cortex.Attach", key)
	defer span.End()

	lock, err := provider.OpenLock(key, OpenAttach)
	if err != nil {
		err = asError("attach lock", key, err)
		fail(span, err)
		return nil, err
	}
	seg, err := attachSegment(key, size)
	if err != nil {
		if cErr := lock.Close(); cErr != nil {
			err = dirtyAfter("attach", key, err, cErr)
		}
		fail(span, err)
		return nil, err
	}
	return newHandle[T](&resources{key: key, seg: seg, lock: lock}, tel), nil
}

func newHandle[T any](res *resources, tel telemetry) *Handle[T] {
	h := &Handle[T]{res: res, tel: tel}
	h.cleanup = runtime.AddCleanup(h, finalize, res)
	metrics.Default.LiveHandles.Inc()
	return h
}

// Key returns the segment key.
func (h *Handle[T]) Key() Key { return h.res.key }

// ID returns the kernel segment id.
func (h *Handle[T]) ID() int { return h.res.seg.id }

// Size returns the mapped size in bytes, the in-memory size of T.
func (h *Handle[T]) Size() int { return h.res.seg.size }

// IsOwner reports whether Close removes the segment from the kernel.
func (h *Handle[T]) IsOwner() bool { return h.res.seg.owner }

// Locker returns the lock guarding the segment.
func (h *Handle[T]) Locker() Locker { return h.res.lock }

// Read acquires the lock, copies the value out and releases the lock.
func (h *Handle[T]) Read() (T, error) {
	var v T
	if err := h.locked("cortex.Read", func(p *T) { v = *p }); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Write acquires the lock, stores v and releases the lock.
func (h *Handle[T]) Write(v T) error {
	return h.locked("cortex.Write", func(p *T) { *p = v })
}

// Update replaces the value with fn(current) under a single lock hold and returns the
// stored result. fn must not use the handle.
func (h *Handle[T]) Update(fn func(T) T) (T, error) {
	var out T
	err := h.locked("cortex.Update", func(p *T) {
		*p = fn(*p)
		out = *p
	})
	return out, err
}

func (h *Handle[T]) locked(name string, access func(*T)) (err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	key := h.res.key
	if h.closed {
		return newClean("access", key, ErrClosed, "Handle for key: %d is closed", key)
	}
	ctx, span := h.tel.start(name, key)
	defer span.End()

	if err := h.tel.acquire(ctx, key, h.res.lock); err != nil {
		fail(span, err)
		return err
	}
	// The lock is shared with other processes: release it even if access panics.
	defer func() {
		if rErr := h.res.lock.Release(); rErr != nil {
			rErr = asError("release", key, rErr)
			fail(span, rErr)
			if err == nil {
				err = rErr
			}
		}
	}()
	access((*T)(h.res.seg.ptr()))
	return nil
}

// Close detaches the segment, removes it if this handle owns it, and closes the lock.
// It waits for in-flight accesses. A Dirty error means something stayed allocated in
// the kernel. Close is idempotent.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.cleanup.Stop()
	metrics.Default.LiveHandles.Dec()
	return h.res.teardown()
}

// teardown always detaches, removes owned resources, and reports failures as Dirty.
func (r *resources) teardown() error {
	var errs []error
	if err := r.seg.close(); err != nil {
		errs = append(errs, err)
	}
	if r.lock != nil {
		if err := r.lock.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	switch {
	case len(errs) == 0:
		return nil
	case len(errs) == 1 && IsDirty(errs[0]):
		return errs[0]
	default:
		return newDirty("teardown", r.key, errors.Join(errs...),
			"Error cleaning up shared memory with id: %d", r.seg.id)
	}
}

// finalize runs when a Handle is collected without Close.
func finalize(r *resources) {
	metrics.Default.LiveHandles.Dec()
	err := r.teardown()
	if err == nil {
		return
	}
	metrics.Default.TeardownFailures.Inc()
	fields := []zap.Field{
		zap.Int32("key", int32(r.key)),
		zap.Int("id", r.seg.id),
		zap.Bool("owner", r.seg.owner),
	}
	var e *Error
	if errors.As(err, &e) {
		fields = append(fields, zap.String("op", e.Op), zap.Int("errno", int(e.Errno)))
	}
	logging.L().Error("Error during finalization", append(fields, zap.Error(err))...)
}
