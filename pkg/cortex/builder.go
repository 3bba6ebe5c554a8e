package cortex

import (
	"reflect"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/cortex/internal/config"
)

var processConfig = sync.OnceValue(config.LoadOrDefault)

type keyStrategy uint8

const (
	keyUnset keyStrategy = iota
	keyExplicit
	keyRandom
	keyConflict
)

// Builder assembles a Handle from an initial value, a key strategy, an ownership policy
// and a lock. Exactly one of Key or RandomKey must be called before WithLock or
// WithDefaultLock.
//
//	h, err := cortex.NewBuilder(42.0).Key(123).WithDefaultLock()
type Builder[T any] struct {
	value    T
	key      Key
	strategy keyStrategy
	force    bool
	perm     uint32
	permSet  bool
	meter    metric.Meter
	tracer   trace.Tracer
	nextKey  keySource
}

// NewBuilder starts a builder for a handle holding value.
func NewBuilder[T any](value T) *Builder[T] {
	return &Builder[T]{value: value, nextKey: randomKey}
}

// Key selects an explicit key. Collisions are the caller's to handle, see ForceOwnership.
func (b *Builder[T]) Key(k Key) *Builder[T] {
	b.setStrategy(keyExplicit)
	b.key = k
	return b
}

// RandomKey lets the builder pick an unused key.
func (b *Builder[T]) RandomKey() *Builder[T] {
	b.setStrategy(keyRandom)
	return b
}

func (b *Builder[T]) setStrategy(s keyStrategy) {
	if b.strategy != keyUnset && b.strategy != s {
		b.strategy = keyConflict
		return
	}
	b.strategy = s
}

// ForceOwnership makes the handle own the segment and lock even if they already existed,
// attaching instead of failing. Closing the handle then destroys them while other
// processes may still be using them. Only valid with an explicit key.
func (b *Builder[T]) ForceOwnership() *Builder[T] {
	b.force = true
	return b
}

// SegmentPermission overrides the segment creation mode (CORTEX_IPC_SEGMENT_MODE, 0666).
func (b *Builder[T]) SegmentPermission(mode uint32) *Builder[T] {
	b.perm = mode & 0o777
	b.permSet = true
	return b
}

// Instrument records spans and lock wait times through the given OpenTelemetry
// meter and tracer. Either may be nil.
func (b *Builder[T]) Instrument(meter metric.Meter, tracer trace.Tracer) *Builder[T] {
	b.meter = meter
	b.tracer = tracer
	return b
}

// WithDefaultLock finishes the build with a semaphore lock using DefaultSemaphoreSettings.
func (b *Builder[T]) WithDefaultLock() (*Handle[T], error) {
	return b.WithLock(DefaultSemaphoreSettings())
}

// WithLock finishes the build. It resolves the key, acquires the segment, opens the
// companion lock under the same key and stores the initial value under that lock.
// On failure everything acquired so far is torn down again; if that teardown fails the
// returned error is Dirty.
func (b *Builder[T]) WithLock(provider LockProvider) (*Handle[T], error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	size, err := sizeOf[T](b.key)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		provider = DefaultSemaphoreSettings()
	}
	tel := newTelemetry(b.meter, b.tracer)
	_, span := tel.start("cortex.Build", b.key)
	defer span.End()

	var res *resources
	open := func(k Key) error {
		r, err := b.open(k, size, provider, tel)
		if err != nil {
			return err
		}
		res = r
		return nil
	}
	if b.strategy == keyRandom {
		_, err = allocateKey(b.nextKey, open)
	} else {
		err = open(b.key)
	}
	if err != nil {
		fail(span, err)
		return nil, err
	}
	span.SetAttributes(keyAttr(res.key))
	return newHandle[T](res, tel), nil
}

func (b *Builder[T]) validate() error {
	switch b.strategy {
	case keyUnset, keyConflict:
		return newClean("build", b.key, ErrKeyStrategy, "Invalid key strategy")
	case keyExplicit:
		return checkKey("build", b.key)
	case keyRandom:
		if b.force {
			return newClean("build", 0, ErrForceRandomKey, "Force ownership with a random key")
		}
	}
	return nil
}

func (b *Builder[T]) segmentPerm() uint32 {
	if b.permSet {
		return b.perm
	}
	return processConfig().SegmentPerm()
}

// open acquires segment and lock for one key, rolling back on failure.
func (b *Builder[T]) open(key Key, size int, provider LockProvider, tel telemetry) (*resources, error) {
	var (
		seg  *segment
		err  error
		mode = OpenCreate
	)
	if b.force {
		seg, err = forceSegment(key, size, b.segmentPerm())
		mode = OpenForce
	} else {
		seg, err = createSegment(key, size, b.segmentPerm())
	}
	if err != nil {
		return nil, err
	}

	lock, err := provider.OpenLock(key, mode)
	if err != nil {
		err = asError("open lock", key, err)
		if cErr := seg.close(); cErr != nil {
			return nil, dirtyAfter("open lock", key, err, cErr)
		}
		return nil, err
	}

	res := &resources{key: key, seg: seg, lock: lock}
	ctx, span := tel.start("cortex.Init", key)
	defer span.End()
	err = tel.acquire(ctx, key, lock)
	if err == nil {
		*(*T)(seg.ptr()) = b.value
		if rErr := lock.Release(); rErr != nil {
			err = asError("release", key, rErr)
		}
	}
	if err != nil {
		fail(span, err)
		if cErr := res.teardown(); cErr != nil {
			return nil, dirtyAfter("initial write", key, err, cErr)
		}
		return nil, err
	}
	return res, nil
}

// sizeOf returns the segment size for T, rejecting types that cannot live in shared memory.
func sizeOf[T any](key Key) (int, error) {
	t := reflect.TypeFor[T]()
	if !plainData(t) {
		return 0, newClean("build", key, ErrNotPlainData, "Type %s cannot be stored in shared memory", t)
	}
	if t.Size() == 0 {
		return 0, newClean("build", key, ErrZeroSize, "Type %s has zero size", t)
	}
	return int(t.Size()), nil
}

// plainData reports whether t is made only of fixed-size, pointer-free values.
func plainData(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return plainData(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if !plainData(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
