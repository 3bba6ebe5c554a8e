package config

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg, err := Load()
	s.Require().NoError(err)
	s.Require().Equal(Default(), cfg)
	s.Require().Equal(uint32(0o666), cfg.SegmentPerm())
	s.Require().Equal(uint32(0o600), cfg.SemaphorePerm())
}

func (s *ConfigTestSuite) TestEnvironmentOverrides() {
	s.T().Setenv("CORTEX_LOG_LEVEL", "debug")
	s.T().Setenv("CORTEX_LOG_DEV", "true")
	s.T().Setenv("CORTEX_IPC_SEGMENT_MODE", "0640")
	s.T().Setenv("CORTEX_IPC_SEMAPHORE_MODE", "660")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Require().Equal("debug", cfg.Log.Level)
	s.Require().True(cfg.Log.Development)
	s.Require().Equal(uint32(0o640), cfg.SegmentPerm())
	s.Require().Equal(uint32(0o660), cfg.SemaphorePerm())
}

func (s *ConfigTestSuite) TestVerify() {
	cfg := Default()
	cfg.IPC.SegmentMode = "0999"
	s.Require().Error(Verify(cfg))

	cfg = Default()
	cfg.IPC.SemaphoreMode = "01777"
	s.Require().Error(Verify(cfg))

	cfg = Default()
	cfg.IPC.SemaphoreMode = "0700"
	s.Require().NoError(Verify(cfg))
}

func (s *ConfigTestSuite) TestLoadOrDefaultFallsBack() {
	s.T().Setenv("CORTEX_IPC_SEGMENT_MODE", "rw-rw-rw-")
	_, err := Load()
	s.Require().Error(err)
	s.Require().Equal(Default(), LoadOrDefault())
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
