//go:build linux && (amd64 || arm64 || riscv64)

package sysv

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Supported reports whether this build talks to a System-V capable kernel.
const Supported = true

// semctl commands and semop flags missing from x/sys/unix.
const (
	semGetPID = 11
	semGetVal = 12
	semSetVal = 16
	semUndo   = 0x1000
)

// sembuf mirrors struct sembuf.
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

// ShmCreate creates a new segment, failing with EEXIST if key is taken.
func ShmCreate(key int32, size int, perm uint32) (int, error) {
	return unix.SysvShmGet(int(key), size, unix.IPC_CREAT|unix.IPC_EXCL|int(perm&0o777))
}

// ShmOpen looks up an existing segment at least size bytes long.
func ShmOpen(key int32, size int) (int, error) {
	return unix.SysvShmGet(int(key), size, 0)
}

// ShmAttach maps the segment into the address space. The slice spans the whole segment.
func ShmAttach(id int) ([]byte, error) {
	return unix.SysvShmAttach(id, 0, 0)
}

// ShmDetach unmaps a mapping returned by ShmAttach.
func ShmDetach(mem []byte) error {
	return unix.SysvShmDetach(mem)
}

// ShmRemove marks the segment for destruction once the last process detaches.
func ShmRemove(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}

// ShmStat runs IPC_STAT on the segment.
func ShmStat(id int) (SegmentStat, error) {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		return SegmentStat{}, err
	}
	return SegmentStat{
		Key:        int32(desc.Perm.Key),
		Mode:       uint32(desc.Perm.Mode) & 0o777,
		Size:       uint64(desc.Segsz),
		OwnerUID:   uint32(desc.Perm.Uid),
		CreatorPID: int32(desc.Cpid),
		LastPID:    int32(desc.Lpid),
		Attached:   uint64(desc.Nattch),
	}, nil
}

// SemCreate creates a set holding one semaphore, failing with EEXIST if key is taken.
// The new semaphore starts at zero; callers set it with SemSetVal.
func SemCreate(key int32, perm uint32) (int, error) {
	return semget(key, 1, unix.IPC_CREAT|unix.IPC_EXCL|int(perm&0o777))
}

// SemOpen looks up an existing set with at least one semaphore.
func SemOpen(key int32) (int, error) {
	return semget(key, 1, 0)
}

// SemWait decrements the semaphore, blocking while it is zero.
func SemWait(id int) error {
	return semop(id, sembuf{op: -1, flg: semUndo})
}

// SemTryWait decrements the semaphore if that does not block.
func SemTryWait(id int) (bool, error) {
	err := semop(id, sembuf{op: -1, flg: semUndo | unix.IPC_NOWAIT})
	if err == unix.EAGAIN {
		return false, nil
	}
	return err == nil, err
}

// SemPost increments the semaphore.
func SemPost(id int) error {
	return semop(id, sembuf{op: 1, flg: semUndo})
}

// SemSetVal stores val in the semaphore.
func SemSetVal(id int, val int) error {
	_, err := semctl(id, semSetVal, uintptr(val))
	return err
}

// SemStat reads the semaphore value and the pid of the last semop.
func SemStat(id int) (SemaphoreStat, error) {
	val, err := semctl(id, semGetVal, 0)
	if err != nil {
		return SemaphoreStat{}, err
	}
	pid, err := semctl(id, semGetPID, 0)
	if err != nil {
		return SemaphoreStat{}, err
	}
	return SemaphoreStat{Value: val, LastPID: int32(pid)}, nil
}

// SemRemove destroys the set, waking blocked waiters with EIDRM.
func SemRemove(id int) error {
	_, err := semctl(id, unix.IPC_RMID, 0)
	return err
}

func semget(key int32, nsems, flag int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(flag))
	if errno != 0 {
		return -1, errno
	}
	return int(id), nil
}

// semop restarts on EINTR: the Go runtime preempts threads with signals.
func semop(id int, op sembuf) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(id), uintptr(unsafe.Pointer(&op)), 1)
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func semctl(id, cmd int, arg uintptr) (int, error) {
	r, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), 0, uintptr(cmd), arg, 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(r), nil
}
