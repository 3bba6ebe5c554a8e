package cortex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	suite.Suite
	key Key
}

func (s *RegistryTestSuite) SetupTest() {
	s.key = testKey()
}

func (s *RegistryTestSuite) TearDownTest() {
	ForgetLeaked(KindSegment, s.key)
	ForgetLeaked(KindSemaphore, s.key)
}

func (s *RegistryTestSuite) TestTrackUntrack() {
	token := track(KindSegment, s.key, 11, false)
	got := liveFor(s.key)
	s.Require().Len(got, 1)
	s.Equal(KindSegment, got[0].Kind)
	s.Equal(11, got[0].ID)
	s.False(got[0].Owner)
	s.False(got[0].Since.IsZero())

	setOwner(token, true)
	s.True(liveFor(s.key)[0].Owner)

	untrack(token)
	s.Empty(liveFor(s.key))
}

func (s *RegistryTestSuite) TestSetOwnerUnknownToken() {
	setOwner("no-such-token", true)
	s.Empty(liveFor(s.key))
}

func (s *RegistryTestSuite) TestMarkLeaked() {
	cause := errors.New("shmctl IPC_RMID: invalid argument")
	token := track(KindSemaphore, s.key, 3, true)
	markLeaked(token, cause)

	s.Empty(liveFor(s.key))
	leaks := leakedFor(s.key)
	s.Require().Len(leaks, 1)
	s.Equal(KindSemaphore, leaks[0].Kind)
	s.ErrorIs(leaks[0].Err, cause)

	markLeaked(token, cause)
	s.Len(leakedFor(s.key), 1, "a token leaks once")
}

func (s *RegistryTestSuite) TestForgetLeakedByKind() {
	recordLeak(KindSegment, s.key, 1, errors.New("a"))
	recordLeak(KindSemaphore, s.key, 2, errors.New("b"))
	s.Len(leakedFor(s.key), 2)

	ForgetLeaked(KindSegment, s.key)
	leaks := leakedFor(s.key)
	s.Require().Len(leaks, 1)
	s.Equal(KindSemaphore, leaks[0].Kind)
}

func (s *RegistryTestSuite) TestSnapshotOrder() {
	first := track(KindSegment, s.key, 1, true)
	second := track(KindSemaphore, s.key, 2, true)
	defer untrack(first)
	defer untrack(second)

	got := liveFor(s.key)
	s.Require().Len(got, 2)
	s.False(got[1].Since.Before(got[0].Since))
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
