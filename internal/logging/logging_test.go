package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rustyeddy/straddle/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  logrus.Level
		err   bool
	}{
		{"", logrus.InfoLevel, false},
		{"debug", logrus.DebugLevel, false},
		{"WARN", logrus.WarnLevel, false},
		{"chatty", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()
			logger := logrus.New()
			c, err := Setup(logger, config.LoggingConfig{Level: tt.level})
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestSetupWritesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nifty_strategy.log")

	logger := logrus.New()
	c, err := Setup(logger, config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	logger.WithField("component", "strategy").Info("batman entry")
	logger.Debug("hidden")
	require.NoError(t, c.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "batman entry")
	assert.Contains(t, string(b), "component=strategy")
	assert.NotContains(t, string(b), "hidden")
}
