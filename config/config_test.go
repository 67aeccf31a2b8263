package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/straddle/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "NIFTY", cfg.Underlying)
	assert.Equal(t, "paper", cfg.Gateway.Type)
	assert.Equal(t, 75, cfg.Strategy.Quantity)
	assert.Equal(t, broker.MIS, cfg.Strategy.ProductType)
	assert.Equal(t, 1800, cfg.Execution.FreezeLimit("NFO"))
	assert.Equal(t, 1000, cfg.Execution.FreezeLimit("BFO"))
	assert.Equal(t, 1000, cfg.Execution.FreezeLimit("MCX"))
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	with := func(mut func(c *Config)) *Config {
		c := Default()
		mut(c)
		return c
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			config:  Default(),
			wantErr: false,
		},
		{
			name:    "unknown underlying",
			config:  with(func(c *Config) { c.Underlying = "BANKEX" }),
			wantErr: true,
			errMsg:  "unknown underlying",
		},
		{
			name:    "kite without credentials",
			config:  with(func(c *Config) { c.Gateway.Type = "kite" }),
			wantErr: true,
			errMsg:  "api_key and access_token required",
		},
		{
			name:    "unknown gateway",
			config:  with(func(c *Config) { c.Gateway.Type = "ib" }),
			wantErr: true,
			errMsg:  "gateway.type must be",
		},
		{
			name:    "bad tick size",
			config:  with(func(c *Config) { c.Execution.TickSize = 0 }),
			wantErr: true,
			errMsg:  "execution.tick_size must be positive",
		},
		{
			name:    "bad slice delay",
			config:  with(func(c *Config) { c.Execution.SliceDelay = "soon" }),
			wantErr: true,
			errMsg:  "execution.slice_delay",
		},
		{
			name:    "csv journal without files",
			config:  with(func(c *Config) { c.Journal = JournalConfig{Type: "csv"} }),
			wantErr: true,
			errMsg:  "required for CSV type",
		},
		{
			name:    "postgres journal without dsn",
			config:  with(func(c *Config) { c.Journal = JournalConfig{Type: "postgres"} }),
			wantErr: true,
			errMsg:  "journal dsn required",
		},
		{
			name:    "redis enabled without addr",
			config:  with(func(c *Config) { c.Redis = RedisConfig{Enabled: true} }),
			wantErr: true,
			errMsg:  "redis.addr required",
		},
		{
			name:    "file strategy validated without redis",
			config:  with(func(c *Config) { c.Strategy.Quantity = 0 }),
			wantErr: true,
			errMsg:  "quantity must be positive",
		},
		{
			name: "strategy deferred to redis",
			config: with(func(c *Config) {
				c.Strategy.Quantity = 0
				c.Redis.Enabled = true
			}),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Expiry = "25OCT"
			cfg.Strategy.TargetPnL = 2500
			path := filepath.Join(tmpDir, "test"+tt.ext)

			err := cfg.SaveToFile(path)
			require.NoError(t, err)

			_, err = os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Underlying, loaded.Underlying)
			assert.Equal(t, "25OCT", loaded.Expiry)
			assert.Equal(t, cfg.Strategy, loaded.Strategy)
			assert.Equal(t, cfg.Execution.FreezeLimits, loaded.Execution.FreezeLimits)

			s := loaded.FileStrategy()
			assert.Equal(t, "NIFTY", s.Index)
			assert.Equal(t, "25OCT", s.Expiry)
		})
	}
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestExecutionDurations(t *testing.T) {
	tests := []struct {
		delay    string
		expected string
		wantErr  bool
	}{
		{"500ms", "500ms", false},
		{"1s", "1s", false},
		{"", "0s", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.delay, func(t *testing.T) {
			e := ExecutionConfig{SliceDelay: tt.delay, PollInterval: tt.delay}
			d, err := e.SliceDelayDuration()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, d.String())
		})
	}
}

func TestStrategyFromInputs(t *testing.T) {
	t.Parallel()

	t.Run("defaults fill optional keys", func(t *testing.T) {
		t.Parallel()
		s, err := StrategyFromInputs(map[string]string{
			KeyIndex:    `"nifty"`,
			KeyExpiry:   `"25OCT"`,
			KeyQuantity: "150",
		})
		require.NoError(t, err)
		assert.Equal(t, "NIFTY", s.Index)
		assert.Equal(t, "25OCT", s.Expiry)
		assert.Equal(t, 150, s.Quantity)
		assert.Equal(t, 15, s.PivotRangeMinutes)
		assert.InDelta(t, 0.01, s.StraddleGap(), 1e-12)
		assert.InDelta(t, 0.025, s.HedgeGap(), 1e-12)
		assert.InDelta(t, 0.003, s.OrderBuffer(), 1e-12)
		assert.Equal(t, 5*time.Second, s.FillTimeout())
		assert.True(t, s.TrailStopLoss)
	})

	t.Run("parses every field", func(t *testing.T) {
		t.Parallel()
		s, err := StrategyFromInputs(map[string]string{
			KeyIndex:             "SENSEX",
			KeyQuantity:          "40.0",
			KeyQtyHedgeRatio:     "0.5",
			KeyPivotRangeMinutes: "10",
			KeyShiftThresholdPts: "100",
			KeyStraddleGapPct:    "0.5",
			KeyHedgeGapPct:       "2",
			KeyOrderBufferPct:    "0.2",
			KeyFillTimeoutSec:    "8",
			KeyRMSCap:            "-50000",
			KeyStopLossBufferPct: "2",
			KeyTargetPnL:         "3000",
			KeyExitPnL:           "-1500",
			KeyRollingValue:      "250",
			KeyTrailStopLoss:     "false",
			KeyProductType:       `"nrml"`,
		})
		require.NoError(t, err)
		assert.Equal(t, 40, s.Quantity)
		assert.Equal(t, 0.5, s.QtyHedgeRatio)
		assert.Equal(t, 100, s.ShiftThresholdPts)
		assert.Equal(t, -50000.0, s.RMSCap)
		assert.InDelta(t, 0.02, s.StopLossBuffer(), 1e-12)
		assert.False(t, s.TrailStopLoss)
		assert.Equal(t, broker.NRML, s.ProductType)
	})

	t.Run("missing essential key", func(t *testing.T) {
		t.Parallel()
		_, err := StrategyFromInputs(map[string]string{KeyIndex: `"NIFTY"`})
		assert.ErrorIs(t, err, ErrConfigMissing)

		_, err = StrategyFromInputs(map[string]string{KeyIndex: `""`, KeyQuantity: "75"})
		assert.ErrorIs(t, err, ErrConfigMissing)
	})

	t.Run("malformed value", func(t *testing.T) {
		t.Parallel()
		_, err := StrategyFromInputs(map[string]string{
			KeyIndex:        "NIFTY",
			KeyQuantity:     "75",
			KeyTargetPnL:    "lots",
			KeyRollingValue: "100",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), KeyTargetPnL)
	})

	t.Run("invalid combination", func(t *testing.T) {
		t.Parallel()
		_, err := StrategyFromInputs(map[string]string{
			KeyIndex:          "NIFTY",
			KeyQuantity:       "75",
			KeyStraddleGapPct: "3",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hedge_gap_pct must exceed")
	})
}
