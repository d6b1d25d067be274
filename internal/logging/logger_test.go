package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		cfg   Config
		level zapcore.Level
	}{
		{name: "development", cfg: Config{Development: true}, level: zapcore.InfoLevel},
		{name: "production debug", cfg: Config{Level: "debug"}, level: zapcore.DebugLevel},
		{name: "warn", cfg: Config{Level: " WARN "}, level: zapcore.WarnLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tc.cfg)
			require.NoError(t, err)
			defer logger.Sync() //nolint:errcheck // best-effort flush
			require.True(t, logger.Core().Enabled(tc.level))
			require.False(t, logger.Core().Enabled(tc.level-1))
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Level: "chatty"})
	require.ErrorContains(t, err, "parse log level")
}
