package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/srediag/cortex/internal/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewBuildsBothEncodings(t *testing.T) {
	for _, dev := range []bool{false, true} {
		l, err := New(Config{Level: "debug", Development: dev})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "error"
	lc := FromConfig(cfg)
	assert.Equal(t, "error", lc.Level)
	assert.Equal(t, []string{"stderr"}, lc.OutputPaths)
}

func TestSetReplacesProcessLogger(t *testing.T) {
	prev := L()
	defer Set(prev)

	core, logs := observer.New(zapcore.ErrorLevel)
	Set(zap.New(core))
	L().Error("teardown failed", zap.Int32("key", 7))
	L().Info("filtered")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "teardown failed", entry.Message)
	assert.Equal(t, int32(7), entry.ContextMap()["key"])

	Set(nil)
	assert.NotNil(t, L())
}
