package cortex

// Locker serializes access to a handle's memory across processes.
//
// Ordinary in-process primitives such as sync.Mutex do not reach other processes, so a
// Handle routes every Read, Write and Update through its Locker. Implementations make no
// promise about fairness beyond what their mechanism provides.
type Locker interface {
	// Acquire blocks until exclusive access is granted. There is no timeout.
	Acquire() error
	// Release gives up exclusive access.
	Release() error
	// Close tears down the lock's own kernel resource if this instance owns it.
	Close() error
}

// TryLocker is a Locker that can also attempt acquisition without blocking.
type TryLocker interface {
	Locker
	TryAcquire() (bool, error)
}

// OpenMode selects how a LockProvider obtains its lock. It mirrors the segment policy.
type OpenMode uint8

const (
	// OpenCreate creates a new lock and owns it; an existing one is an error.
	OpenCreate OpenMode = iota
	// OpenAttach joins an existing lock without owning it.
	OpenAttach
	// OpenForce creates or joins, and owns the lock either way.
	OpenForce
)

func (m OpenMode) String() string {
	switch m {
	case OpenCreate:
		return "create"
	case OpenAttach:
		return "attach"
	case OpenForce:
		return "force"
	default:
		return "unknown"
	}
}

// LockProvider opens the companion lock for a segment key. SemaphoreSettings is the
// built-in provider; any other implementation can be passed to Builder.WithLock.
type LockProvider interface {
	OpenLock(key Key, mode OpenMode) (Locker, error)
}
