//go:build linux && (amd64 || arm64 || riscv64)

package sysv

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testKey() int32 {
	return rand.Int32N(1<<30) + 1<<30
}

func requireIPC(t *testing.T) {
	t.Helper()
	id, err := ShmCreate(testKey(), 8, 0o600)
	if err != nil {
		t.Skipf("System-V shared memory unavailable: %v", err)
	}
	_ = ShmRemove(id)
}

func TestSegmentLifecycle(t *testing.T) {
	requireIPC(t)
	key := testKey()

	id, err := ShmCreate(key, 16, 0o600)
	require.NoError(t, err)

	_, err = ShmCreate(key, 16, 0o600)
	assert.Equal(t, unix.EEXIST, err)

	mem, err := ShmAttach(id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(mem), 16)
	mem[0] = 0x2a

	again, err := ShmOpen(key, 16)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = ShmOpen(key, 1<<20)
	assert.Equal(t, unix.EINVAL, err, "a smaller segment than requested is refused")

	other, err := ShmAttach(again)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2a), other[0])

	stat, err := ShmStat(id)
	require.NoError(t, err)
	assert.Equal(t, key, stat.Key)
	assert.Equal(t, uint32(0o600), stat.Mode)
	assert.Equal(t, uint64(16), stat.Size)
	assert.Equal(t, uint64(2), stat.Attached)
	assert.Equal(t, int32(unix.Getpid()), stat.CreatorPID)

	require.NoError(t, ShmDetach(other))
	require.NoError(t, ShmDetach(mem))
	require.NoError(t, ShmRemove(id))

	_, err = ShmOpen(key, 16)
	assert.Equal(t, unix.ENOENT, err)
}

func TestSemaphoreLifecycle(t *testing.T) {
	requireIPC(t)
	key := testKey()

	id, err := SemCreate(key, 0o600)
	require.NoError(t, err)
	defer func() { _ = SemRemove(id) }()

	_, err = SemCreate(key, 0o600)
	assert.Equal(t, unix.EEXIST, err)

	ok, err := SemTryWait(id)
	require.NoError(t, err)
	assert.False(t, ok, "a fresh set starts at zero")

	require.NoError(t, SemSetVal(id, 1))
	found, err := SemOpen(key)
	require.NoError(t, err)
	assert.Equal(t, id, found)

	require.NoError(t, SemWait(id))
	ok, err = SemTryWait(id)
	require.NoError(t, err)
	assert.False(t, ok)

	stat, err := SemStat(id)
	require.NoError(t, err)
	assert.Equal(t, 0, stat.Value)
	assert.Equal(t, int32(unix.Getpid()), stat.LastPID)

	require.NoError(t, SemPost(id))
	ok, err = SemTryWait(id)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, SemPost(id))
}

func TestSemWaitBlocksUntilPost(t *testing.T) {
	requireIPC(t)
	id, err := SemCreate(testKey(), 0o600)
	require.NoError(t, err)
	defer func() { _ = SemRemove(id) }()

	done := make(chan error, 1)
	go func() { done <- SemWait(id) }()

	select {
	case <-done:
		t.Fatal("SemWait returned while the semaphore was zero")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, SemPost(id))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("SemWait did not wake after SemPost")
	}
}

func TestSemRemoveWakesWaiters(t *testing.T) {
	requireIPC(t)
	id, err := SemCreate(testKey(), 0o600)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- SemWait(id) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, SemRemove(id))
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not woken by IPC_RMID")
	}
}
