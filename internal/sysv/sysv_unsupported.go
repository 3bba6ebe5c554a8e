//go:build !linux || !(amd64 || arm64 || riscv64)

package sysv

// Supported reports whether this build talks to a System-V capable kernel.
const Supported = false

func ShmCreate(key int32, size int, perm uint32) (int, error) { return -1, ErrUnsupported }

func ShmOpen(key int32, size int) (int, error) { return -1, ErrUnsupported }

func ShmAttach(id int) ([]byte, error) { return nil, ErrUnsupported }

func ShmDetach(mem []byte) error { return ErrUnsupported }

func ShmRemove(id int) error { return ErrUnsupported }

func ShmStat(id int) (SegmentStat, error) { return SegmentStat{}, ErrUnsupported }

func SemCreate(key int32, perm uint32) (int, error) { return -1, ErrUnsupported }

func SemOpen(key int32) (int, error) { return -1, ErrUnsupported }

func SemWait(id int) error { return ErrUnsupported }

func SemTryWait(id int) (bool, error) { return false, ErrUnsupported }

func SemPost(id int) error { return ErrUnsupported }

func SemSetVal(id int, val int) error { return ErrUnsupported }

func SemStat(id int) (SemaphoreStat, error) { return SemaphoreStat{}, ErrUnsupported }

func SemRemove(id int) error { return ErrUnsupported }
