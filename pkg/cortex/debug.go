/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cortex

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/cortex/internal/sysv"
)

// Supported reports whether this platform provides System-V IPC to cortex.
func Supported() bool { return sysv.Supported }

// SegmentInfo is the kernel's view of a segment.
type SegmentInfo struct {
	Key          Key
	ID           int
	Size         uint64
	Mode         uint32
	OwnerUID     uint32
	CreatorPID   int32
	CreatorAlive bool
	LastPID      int32
	Attached     uint64
}

// Orphaned reports a segment nobody is attached to whose creator has exited. Nothing
// will ever remove it unless someone does so by hand.
func (i SegmentInfo) Orphaned() bool {
	return i.Attached == 0 && !i.CreatorAlive
}

// SemaphoreInfo is the kernel's view of a cortex semaphore set.
type SemaphoreInfo struct {
	Key       Key
	ID        int
	Value     int
	LastPID   int32
	LastAlive bool
}

// Held reports whether some process is inside the lock.
func (i SemaphoreInfo) Held() bool { return i.Value == 0 }

// InspectSegment runs IPC_STAT on the segment for key without attaching to it.
func InspectSegment(key Key) (SegmentInfo, error) {
	if err := checkKey("inspect", key); err != nil {
		return SegmentInfo{}, err
	}
	id, err := sysv.ShmOpen(int32(key), 0)
	if err != nil {
		return SegmentInfo{}, newClean("shmget", key, err, "Error during shmget for key: %d", key)
	}
	st, err := sysv.ShmStat(id)
	if err != nil {
		return SegmentInfo{}, newClean("shmctl", key, err, "Error during IPC_STAT for id: %d", id)
	}
	return SegmentInfo{
		Key:          key,
		ID:           id,
		Size:         st.Size,
		Mode:         st.Mode,
		OwnerUID:     st.OwnerUID,
		CreatorPID:   st.CreatorPID,
		CreatorAlive: pidAlive(st.CreatorPID),
		LastPID:      st.LastPID,
		Attached:     st.Attached,
	}, nil
}

// InspectSemaphore reads the value and last operator of the semaphore set for key.
func InspectSemaphore(key Key) (SemaphoreInfo, error) {
	if err := checkKey("inspect", key); err != nil {
		return SemaphoreInfo{}, err
	}
	id, err := sysv.SemOpen(int32(key))
	if err != nil {
		return SemaphoreInfo{}, newClean("semget", key, err, "Error during semget for key: %d", key)
	}
	st, err := sysv.SemStat(id)
	if err != nil {
		return SemaphoreInfo{}, newClean("semctl", key, err, "Error reading semaphore id: %d", id)
	}
	return SemaphoreInfo{
		Key:       key,
		ID:        id,
		Value:     st.Value,
		LastPID:   st.LastPID,
		LastAlive: pidAlive(st.LastPID),
	}, nil
}

// RemoveSegment marks the segment for key for destruction. It is the manual cleanup
// for a Dirty error; processes still attached keep their mapping until they detach.
func RemoveSegment(key Key) error {
	if err := checkKey("remove", key); err != nil {
		return err
	}
	id, err := sysv.ShmOpen(int32(key), 0)
	if err != nil {
		return newClean("shmget", key, err, "Error during shmget for key: %d", key)
	}
	if err := sysv.ShmRemove(id); err != nil {
		return newClean("shmctl", key, err, "Error removing shared memory with id: %d", id)
	}
	ForgetLeaked(KindSegment, key)
	return nil
}

// RemoveSemaphore destroys the semaphore set for key, waking any waiters with an error.
func RemoveSemaphore(key Key) error {
	if err := checkKey("remove", key); err != nil {
		return err
	}
	id, err := sysv.SemOpen(int32(key))
	if err != nil {
		return newClean("semget", key, err, "Error during semget for key: %d", key)
	}
	if err := sysv.SemRemove(id); err != nil {
		return newClean("semctl", key, err, "Error removing semaphore id: %d", id)
	}
	ForgetLeaked(KindSemaphore, key)
	return nil
}

// DebugKeyDetail prints the segment and semaphore state for key to w.
func DebugKeyDetail(w io.Writer, key Key) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	seg, segErr := InspectSegment(key)
	if segErr != nil {
		_, _ = fmt.Fprintf(buf, "key:%d segment: %v\n", key, segErr)
	} else {
		_, _ = fmt.Fprintf(buf, "key:%d segment id:%d size:%d mode:%04o uid:%d nattch:%d cpid:%d%s lpid:%d",
			key, seg.ID, seg.Size, seg.Mode, seg.OwnerUID, seg.Attached,
			seg.CreatorPID, aliveMark(seg.CreatorAlive), seg.LastPID)
		if seg.Orphaned() {
			_, _ = buf.WriteString(" orphaned")
		}
		_ = buf.WriteByte('\n')
	}

	sem, semErr := InspectSemaphore(key)
	if semErr != nil {
		_, _ = fmt.Fprintf(buf, "key:%d semaphore: %v\n", key, semErr)
	} else {
		_, _ = fmt.Fprintf(buf, "key:%d semaphore id:%d value:%d lastpid:%d%s",
			key, sem.ID, sem.Value, sem.LastPID, aliveMark(sem.LastAlive))
		if sem.Held() {
			_, _ = buf.WriteString(" held")
		}
		_ = buf.WriteByte('\n')
	}

	for _, r := range LeakedResources() {
		if r.Key != key {
			continue
		}
		_, _ = buf.WriteString("leaked " + string(r.Kind) + " id:" + strconv.Itoa(r.ID))
		if r.Err != nil {
			_, _ = buf.WriteString(" cause: " + r.Err.Error())
		}
		_ = buf.WriteByte('\n')
	}

	if _, err := w.Write(buf.B); err != nil {
		return err
	}
	if segErr != nil && semErr != nil {
		return segErr
	}
	return nil
}

func aliveMark(alive bool) string {
	if alive {
		return ""
	}
	return "(exited)"
}

func pidAlive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(pid)
	return err == nil && ok
}
