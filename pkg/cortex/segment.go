package cortex

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"go.uber.org/zap"

	"github.com/srediag/cortex/internal/logging"
	"github.com/srediag/cortex/internal/metrics"
	"github.com/srediag/cortex/internal/sysv"
)

// segment is one attachment of a System-V shared memory segment.
type segment struct {
	key   Key
	id    int
	size  int
	mem   []byte
	owner bool
	token string
}

// createSegment requests a new segment and maps it. The caller owns it.
func createSegment(key Key, size int, perm uint32) (*segment, error) {
	id, err := sysv.ShmCreate(int32(key), size, perm)
	if err != nil {
		return nil, newClean("shmget", key, err, "Error during shmget for key: %d", key)
	}
	logging.L().Debug("allocated shared memory", zap.Int32("key", int32(key)), zap.Int("id", id), zap.Int("size", size))

	mem, err := sysv.ShmAttach(id)
	if err != nil {
		if rmErr := sysv.ShmRemove(id); rmErr != nil {
			recordLeak(KindSegment, key, id, rmErr)
			return nil, newDirty("shmat", key, errors.Join(err, rmErr),
				"Error during shmat for id: %d, segment left allocated", id)
		}
		return nil, newClean("shmat", key, err, "Error during shmat for id: %d", id)
	}
	metrics.Default.Segments.WithLabelValues("create").Inc()
	return newSegment(key, id, size, mem, true), nil
}

// attachSegment maps an existing segment of at least size bytes.
func attachSegment(key Key, size int) (*segment, error) {
	id, err := sysv.ShmOpen(int32(key), size)
	if err != nil {
		return nil, newClean("shmget", key, err, "Error during shmget for key: %d", key)
	}
	logging.L().Debug("found shared memory", zap.Int32("key", int32(key)), zap.Int("id", id))

	mem, err := sysv.ShmAttach(id)
	if err != nil {
		return nil, newClean("shmat", key, err, "Error during shmat for id: %d", id)
	}
	if len(mem) < size {
		if dtErr := sysv.ShmDetach(mem); dtErr != nil {
			return nil, newDirty("shmdt", key, dtErr, "Error detaching undersized segment id: %d", id)
		}
		return nil, newClean("shmat", key, syscall.EINVAL,
			"Segment id: %d holds %d bytes, type needs %d", id, len(mem), size)
	}
	metrics.Default.Segments.WithLabelValues("attach").Inc()
	return newSegment(key, id, size, mem, false), nil
}

// forceSegment creates the segment or, if key is taken, attaches to it. Either way the
// result owns the segment and removes it on teardown, even if other processes still use it.
func forceSegment(key Key, size int, perm uint32) (*segment, error) {
	s, err := createSegment(key, size, perm)
	if isCollision(err) {
		s, err = attachSegment(key, size)
	}
	if err != nil {
		return nil, err
	}
	s.owner = true
	setOwner(s.token, true)
	metrics.Default.Segments.WithLabelValues("force").Inc()
	return s, nil
}

func newSegment(key Key, id, size int, mem []byte, owner bool) *segment {
	s := &segment{key: key, id: id, size: size, mem: mem, owner: owner}
	s.token = track(KindSegment, key, id, owner)
	return s
}

func (s *segment) ptr() unsafe.Pointer {
	return unsafe.Pointer(&s.mem[0])
}

// close detaches, then removes the segment if owned. It runs at most once.
func (s *segment) close() error {
	if s.token == "" {
		return nil
	}
	var errs []error
	if s.mem != nil {
		if err := sysv.ShmDetach(s.mem); err != nil {
			errs = append(errs, fmt.Errorf("shmdt: %w", err))
		}
		s.mem = nil
	}
	if s.owner {
		if err := sysv.ShmRemove(s.id); err != nil {
			errs = append(errs, fmt.Errorf("shmctl IPC_RMID: %w", err))
		} else {
			metrics.Default.Segments.WithLabelValues("remove").Inc()
			logging.L().Debug("removed shared memory", zap.Int32("key", int32(s.key)), zap.Int("id", s.id))
		}
	}
	token := s.token
	s.token = ""
	if len(errs) > 0 {
		err := errors.Join(errs...)
		markLeaked(token, err)
		return err
	}
	untrack(token)
	return nil
}
