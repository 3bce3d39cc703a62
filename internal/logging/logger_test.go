package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true, Service: "catalogsync"})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLoggerLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = New(Config{Level: "chatty"})
	require.Error(t, err)
}
