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
	"bytes"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/cortex/internal/sysv"
)

type DebugTestSuite struct {
	suite.Suite
}

func (s *DebugTestSuite) SetupTest() {
	requireIPC(s.T())
}

func (s *DebugTestSuite) TestInspectLiveHandle() {
	key := testKey()
	h, err := New(key, uint64(1), nil)
	s.Require().NoError(err)
	defer h.Close()

	seg, err := InspectSegment(key)
	s.Require().NoError(err)
	s.Equal(h.ID(), seg.ID)
	s.Equal(uint64(8), seg.Size)
	s.Equal(uint64(1), seg.Attached)
	s.Equal(int32(os.Getpid()), seg.CreatorPID)
	s.True(seg.CreatorAlive)
	s.False(seg.Orphaned())

	sem, err := InspectSemaphore(key)
	s.Require().NoError(err)
	s.Equal(1, sem.Value)
	s.False(sem.Held())

	s.Require().NoError(h.Locker().Acquire())
	sem, err = InspectSemaphore(key)
	s.Require().NoError(err)
	s.True(sem.Held())
	s.Equal(int32(os.Getpid()), sem.LastPID)
	s.True(sem.LastAlive)
	s.Require().NoError(h.Locker().Release())
}

func (s *DebugTestSuite) TestInspectMissing() {
	_, err := InspectSegment(testKey())
	s.True(IsClean(err))
	s.ErrorIs(err, syscall.ENOENT)

	_, err = InspectSemaphore(testKey())
	s.ErrorIs(err, syscall.ENOENT)
}

func (s *DebugTestSuite) TestRemoveStrandedResources() {
	key := testKey()
	shmID, err := sysv.ShmCreate(int32(key), 16, 0o600)
	s.Require().NoError(err)
	semID, err := sysv.SemCreate(int32(key), 0o600)
	s.Require().NoError(err)
	recordLeak(KindSegment, key, shmID, errors.New("stranded"))
	recordLeak(KindSemaphore, key, semID, errors.New("stranded"))

	seg, err := InspectSegment(key)
	s.Require().NoError(err)
	s.Zero(seg.Attached)

	s.NoError(RemoveSegment(key))
	s.NoError(RemoveSemaphore(key))
	s.False(segmentExists(key))
	s.False(semaphoreExists(key))
	s.Empty(leakedFor(key))

	s.ErrorIs(RemoveSegment(key), syscall.ENOENT)
	s.ErrorIs(RemoveSemaphore(key), syscall.ENOENT)
}

func (s *DebugTestSuite) TestDebugKeyDetail() {
	key := testKey()
	h, err := New(key, int32(1), nil)
	s.Require().NoError(err)
	defer h.Close()

	var out bytes.Buffer
	s.Require().NoError(DebugKeyDetail(&out, key))
	s.Contains(out.String(), "segment id:")
	s.Contains(out.String(), "semaphore id:")
	s.Contains(out.String(), "value:1")
	s.NotContains(out.String(), "orphaned")

	out.Reset()
	err = DebugKeyDetail(&out, testKey())
	s.Error(err)
	s.Contains(out.String(), "segment: cortex: clean system error")
}

func (s *DebugTestSuite) TestOrphaned() {
	s.True(SegmentInfo{Attached: 0, CreatorAlive: false}.Orphaned())
	s.False(SegmentInfo{Attached: 1, CreatorAlive: false}.Orphaned())
	s.False(SegmentInfo{Attached: 0, CreatorAlive: true}.Orphaned())
	s.False(pidAlive(0))
	s.True(pidAlive(int32(os.Getpid())))
}

func TestDebugTestSuite(t *testing.T) {
	suite.Run(t, new(DebugTestSuite))
}
