package cortex

import (
	"errors"
	"math"
	"math/rand/v2"
	"syscall"

	"github.com/cenkalti/backoff/v4"
)

// Key names a segment and, in the semaphore namespace, its companion lock.
type Key int32

// randomKeyAttempts bounds random key allocation.
const randomKeyAttempts = 20

type keySource func() Key

// randomKey never returns 0, which is IPC_PRIVATE.
func randomKey() Key {
	return Key(rand.Int32N(math.MaxInt32) + 1)
}

// checkKey rejects IPC_PRIVATE before it reaches a syscall. With key 0, shmget and
// semget ignore every flag and create a fresh object.
func checkKey(op string, key Key) error {
	if key == 0 {
		return newClean(op, key, ErrPrivateKey, "Key 0 cannot name a shared object")
	}
	return nil
}

// isCollision reports a failure caused only by the candidate key being taken.
func isCollision(err error) bool {
	return IsClean(err) && errors.Is(err, syscall.EEXIST)
}

// allocateKey feeds candidates from next into try until one is not a collision.
func allocateKey(next keySource, try func(Key) error) (Key, error) {
	var (
		key      Key
		attempts int
	)
	op := func() error {
		attempts++
		key = next()
		err := try(key)
		if err == nil || isCollision(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, randomKeyAttempts-1))
	if err == nil {
		return key, nil
	}
	if isCollision(err) {
		e := newClean("random key", key, ErrKeySpaceExhausted, "No free key after %d attempts", attempts)
		e.Errno = syscall.EEXIST
		return 0, e
	}
	return 0, err
}
