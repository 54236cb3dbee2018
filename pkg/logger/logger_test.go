package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)

	logger, err := NewLogger(LoggerConfig{
		ServiceName:   "blockproxy-test",
		IsDebug:       true,
		InitialFields: []zap.Field{zap.String("node", "n1")},
		Cores:         []zapcore.Core{core},
	})
	require.NoError(t, err)

	logger.Debug("debug entry", zap.Int("n", 1))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "debug entry", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "blockproxy-test", fields["service"])
	assert.Equal(t, "n1", fields["node"])
	assert.Contains(t, fields, "pid")
}

func TestNewLogger_InfoLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(LoggerConfig{ServiceName: "blockproxy-test"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
