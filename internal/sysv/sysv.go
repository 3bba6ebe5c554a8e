// Package sysv contains the raw System-V IPC calls behind cortex segments and semaphores.
//
// Every function returns the kernel errno (a syscall.Errno) unwrapped, so callers can
// classify failures themselves. Implementations live in platform-specific files.
package sysv

import "errors"

// ErrUnsupported is returned by every call on platforms without System-V IPC.
var ErrUnsupported = errors.New("sysv: System-V IPC is not supported on this platform")

// SegmentStat is the part of shmid_ds reported by diagnostics.
type SegmentStat struct {
	Key        int32
	Mode       uint32
	Size       uint64
	OwnerUID   uint32
	CreatorPID int32
	LastPID    int32
	Attached   uint64
}

// SemaphoreStat describes the single semaphore of a cortex set.
type SemaphoreStat struct {
	Value   int
	LastPID int32
}
