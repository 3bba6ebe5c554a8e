package cortex

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/srediag/cortex/internal/logging"
	"github.com/srediag/cortex/internal/metrics"
	"github.com/srediag/cortex/internal/sysv"
)

// Permission is the mode applied when a semaphore set is created.
type Permission uint32

// Predefined permissions.
const (
	OwnerOnly          Permission = 0o600
	OwnerAndGroup      Permission = 0o660
	ReadOnlyForOthers  Permission = 0o664
	ReadWriteForOthers Permission = 0o666
)

// CustomPermission keeps the permission bits of mode.
func CustomPermission(mode uint32) Permission {
	return Permission(mode & 0o777)
}

// SemaphoreSettings configures the built-in semaphore lock. The zero value uses the
// process default (CORTEX_IPC_SEMAPHORE_MODE, 0600 unless overridden).
type SemaphoreSettings struct {
	Permission Permission
}

// DefaultSemaphoreSettings returns the settings used by WithDefaultLock.
func DefaultSemaphoreSettings() SemaphoreSettings {
	return SemaphoreSettings{Permission: Permission(processConfig().SemaphorePerm())}
}

func (s SemaphoreSettings) perm() uint32 {
	if s.Permission == 0 {
		return processConfig().SemaphorePerm()
	}
	return uint32(s.Permission)
}

// OpenLock implements LockProvider. Settings only matter when a set is created.
func (s SemaphoreSettings) OpenLock(key Key, mode OpenMode) (Locker, error) {
	var (
		sem *Semaphore
		err error
	)
	switch mode {
	case OpenAttach:
		sem, err = AttachSemaphore(key)
	case OpenForce:
		sem, err = ForceSemaphore(key, s)
	default:
		sem, err = CreateSemaphore(key, s)
	}
	if err != nil {
		return nil, err
	}
	return sem, nil
}

// Semaphore is a lock backed by a System-V set of one semaphore, initialized to 1.
// Operations use SEM_UNDO, so the kernel gives the slot back if a holder process dies.
type Semaphore struct {
	key   Key
	id    int
	owner bool

	mu    sync.Mutex
	token string
}

var _ TryLocker = (*Semaphore)(nil)

// CreateSemaphore creates the set for key. It fails with EEXIST if the key is taken.
func CreateSemaphore(key Key, settings SemaphoreSettings) (*Semaphore, error) {
	if err := checkKey("semget", key); err != nil {
		return nil, err
	}
	id, err := sysv.SemCreate(int32(key), settings.perm())
	if err != nil {
		return nil, newClean("semget", key, err, "Error during semget for key: %d", key)
	}
	if err := sysv.SemSetVal(id, 1); err != nil {
		if rmErr := sysv.SemRemove(id); rmErr != nil {
			recordLeak(KindSemaphore, key, id, rmErr)
			return nil, newDirty("semctl", key, errors.Join(err, rmErr),
				"Error initializing semaphore id: %d, set left allocated", id)
		}
		return nil, newClean("semctl", key, err, "Error initializing semaphore id: %d", id)
	}
	logging.L().Debug("created semaphore", zap.Int32("key", int32(key)), zap.Int("id", id))
	metrics.Default.Semaphores.WithLabelValues("create").Inc()
	return newSemaphore(key, id, true), nil
}

// AttachSemaphore joins the existing set for key. It never removes the set.
func AttachSemaphore(key Key) (*Semaphore, error) {
	if err := checkKey("semget", key); err != nil {
		return nil, err
	}
	id, err := sysv.SemOpen(int32(key))
	if err != nil {
		return nil, newClean("semget", key, err, "Error during semget for key: %d", key)
	}
	metrics.Default.Semaphores.WithLabelValues("attach").Inc()
	return newSemaphore(key, id, false), nil
}

// ForceSemaphore creates the set or joins an existing one, owning it either way.
func ForceSemaphore(key Key, settings SemaphoreSettings) (*Semaphore, error) {
	s, err := CreateSemaphore(key, settings)
	if isCollision(err) {
		s, err = AttachSemaphore(key)
	}
	if err != nil {
		return nil, err
	}
	s.owner = true
	setOwner(s.token, true)
	metrics.Default.Semaphores.WithLabelValues("force").Inc()
	return s, nil
}

func newSemaphore(key Key, id int, owner bool) *Semaphore {
	return &Semaphore{key: key, id: id, owner: owner, token: track(KindSemaphore, key, id, owner)}
}

// Key returns the semaphore key.
func (s *Semaphore) Key() Key { return s.key }

// ID returns the kernel set id.
func (s *Semaphore) ID() int { return s.id }

// IsOwner reports whether Close removes the set.
func (s *Semaphore) IsOwner() bool { return s.owner }

// Acquire decrements the semaphore, blocking while it is zero.
func (s *Semaphore) Acquire() error {
	if err := sysv.SemWait(s.id); err != nil {
		return newClean("semop", s.key, err, "Error during semaphore wait for id: %d", s.id)
	}
	return nil
}

// TryAcquire decrements the semaphore only if that would not block.
func (s *Semaphore) TryAcquire() (bool, error) {
	ok, err := sysv.SemTryWait(s.id)
	if err != nil {
		return false, newClean("semop", s.key, err, "Error during semaphore try-wait for id: %d", s.id)
	}
	return ok, nil
}

// Release increments the semaphore.
func (s *Semaphore) Release() error {
	if err := sysv.SemPost(s.id); err != nil {
		return newClean("semop", s.key, err, "Error during semaphore release for id: %d", s.id)
	}
	return nil
}

// Close removes the set if owned. Waiters in other processes fail with EIDRM.
// Calling Close more than once is a no-op.
func (s *Semaphore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return nil
	}
	token := s.token
	s.token = ""
	if !s.owner {
		untrack(token)
		return nil
	}
	if err := sysv.SemRemove(s.id); err != nil {
		markLeaked(token, err)
		return newDirty("semctl", s.key, err, "Error removing semaphore id: %d", s.id)
	}
	untrack(token)
	metrics.Default.Semaphores.WithLabelValues("remove").Inc()
	logging.L().Debug("removed semaphore", zap.Int32("key", int32(s.key)), zap.Int("id", s.id))
	return nil
}
