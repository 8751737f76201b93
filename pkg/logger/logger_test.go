package logger

import (
	"testing"

	"ecorewards-engine/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuildHonoursLogLevel(t *testing.T) {
	log, err := Build(&config.Config{AppEnv: "production", LogLevel: "warn"})
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = Build(&config.Config{AppEnv: "development"})
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	_, err := Build(&config.Config{LogLevel: "chatty"})
	require.Error(t, err)
}
