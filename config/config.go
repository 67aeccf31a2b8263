package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/straddle/market"
	"gopkg.in/yaml.v3"
)

// ErrConfigMissing is returned while the strategy parameters have not been
// published yet. Callers poll until it clears.
var ErrConfigMissing = errors.New("strategy configuration not available")

// Config represents the complete process configuration
type Config struct {
	Underlying string          `json:"underlying" yaml:"underlying"`
	Expiry     string          `json:"expiry" yaml:"expiry"` // e.g. "25OCT" or "25O28"
	Gateway    GatewayConfig   `json:"gateway" yaml:"gateway"`
	Strategy   Strategy        `json:"strategy" yaml:"strategy"`
	Execution  ExecutionConfig `json:"execution" yaml:"execution"`
	Redis      RedisConfig     `json:"redis" yaml:"redis"`
	Journal    JournalConfig   `json:"journal" yaml:"journal"`
	Metrics    MetricsConfig   `json:"metrics" yaml:"metrics"`
	Telemetry  TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig   `json:"logging" yaml:"logging"`
	Profiling  ProfilingConfig `json:"profiling" yaml:"profiling"`
}

// GatewayConfig selects the broker adapter.
type GatewayConfig struct {
	Type        string `json:"type" yaml:"type"` // "paper" or "kite"
	APIKey      string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	AccessToken string `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	BaseURL     string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Timeout     string `json:"timeout,omitempty" yaml:"timeout,omitempty"`       // e.g. "10s"
	PaperFill   string `json:"paper_fill,omitempty" yaml:"paper_fill,omitempty"` // "complete" or "open"
}

// ExecutionConfig holds exchange constraints for order slicing.
type ExecutionConfig struct {
	FreezeLimits map[string]int `json:"freeze_limits,omitempty" yaml:"freeze_limits,omitempty"`
	DefaultLimit int            `json:"default_freeze_limit" yaml:"default_freeze_limit"`
	TickSize     float64        `json:"tick_size" yaml:"tick_size"`
	SliceDelay   string         `json:"slice_delay" yaml:"slice_delay"`
	PollInterval string         `json:"poll_interval" yaml:"poll_interval"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "csv", "sqlite", "postgres" or "none"
	FillsFile   string `json:"fills_file,omitempty" yaml:"fills_file,omitempty"`
	ActionsFile string `json:"actions_file,omitempty" yaml:"actions_file,omitempty"`
	MTMFile     string `json:"mtm_file,omitempty" yaml:"mtm_file,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN         string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // e.g. ":9102", empty disables
}

type TelemetryConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // websocket snapshot hub, empty disables
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
}

type ProfilingConfig struct {
	ServerAddress string `json:"server_address,omitempty" yaml:"server_address,omitempty"`
}

// LoadFromFile loads configuration from a file (JSON or YAML)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the process level settings. Strategy parameters are
// validated separately because they may arrive later from Redis.
func (c *Config) Validate() error {
	if _, err := market.LookupUnderlying(c.Underlying); err != nil {
		return fmt.Errorf("underlying: %w", err)
	}

	switch c.Gateway.Type {
	case "paper":
	case "kite":
		if c.Gateway.APIKey == "" || c.Gateway.AccessToken == "" {
			return fmt.Errorf("gateway api_key and access_token required for kite")
		}
	default:
		return fmt.Errorf("gateway.type must be 'paper' or 'kite'")
	}
	if c.Gateway.Timeout != "" {
		if _, err := time.ParseDuration(c.Gateway.Timeout); err != nil {
			return fmt.Errorf("gateway.timeout: %w", err)
		}
	}

	if err := c.Execution.Validate(); err != nil {
		return err
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis is enabled")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.FillsFile == "" || c.Journal.ActionsFile == "" || c.Journal.MTMFile == "" {
			return fmt.Errorf("journal fills_file, actions_file and mtm_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal dsn required for postgres type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite', 'postgres' or 'none'")
	}

	// Without Redis the file is the only strategy source.
	if !c.Redis.Enabled {
		if err := c.FileStrategy().Validate(); err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
	}
	return nil
}

// FileStrategy returns the strategy section bound to the file's underlying
// and expiry.
func (c *Config) FileStrategy() Strategy {
	s := c.Strategy
	s.Index = c.Underlying
	s.Expiry = c.Expiry
	return s
}

// FreezeLimit returns the maximum order size for exchange.
func (e ExecutionConfig) FreezeLimit(exchange string) int {
	if lim, ok := e.FreezeLimits[exchange]; ok {
		return lim
	}
	return e.DefaultLimit
}

func (e ExecutionConfig) Validate() error {
	if e.TickSize <= 0 {
		return fmt.Errorf("execution.tick_size must be positive")
	}
	if e.DefaultLimit <= 0 {
		return fmt.Errorf("execution.default_freeze_limit must be positive")
	}
	for exch, lim := range e.FreezeLimits {
		if lim <= 0 {
			return fmt.Errorf("execution.freeze_limits[%s] must be positive", exch)
		}
	}
	if _, err := e.SliceDelayDuration(); err != nil {
		return fmt.Errorf("execution.slice_delay: %w", err)
	}
	if _, err := e.PollIntervalDuration(); err != nil {
		return fmt.Errorf("execution.poll_interval: %w", err)
	}
	return nil
}

func (e ExecutionConfig) SliceDelayDuration() (time.Duration, error) {
	return parseDuration(e.SliceDelay)
}

func (e ExecutionConfig) PollIntervalDuration() (time.Duration, error) {
	return parseDuration(e.PollInterval)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Underlying: "NIFTY",
		Gateway: GatewayConfig{
			Type:      "paper",
			Timeout:   "10s",
			PaperFill: "complete",
		},
		Strategy: DefaultStrategy(),
		Execution: ExecutionConfig{
			FreezeLimits: map[string]int{"NFO": 1800, "BFO": 1000},
			DefaultLimit: 1000,
			TickSize:     0.05,
			SliceDelay:   "500ms",
			PollInterval: "500ms",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./straddle.sqlite",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}
