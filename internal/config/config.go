package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
)

type EngineConfig struct {
	Address          string `yaml:"address"`
	Port             int    `yaml:"port"`
	RemoteOpen       bool   `yaml:"remote_open"`
	LogFile          string `yaml:"log_file"` // engine activity sink; empty = stdout
	NamespacePrefix  string `yaml:"namespace_prefix"`
	CacheSize        string `yaml:"cache_size"` // per sandbox database, e.g. "16MiB"
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

type PoolConfig struct {
	MaxActive                 int    `yaml:"max_active"`
	MaxTotal                  int    `yaml:"max_total"`
	MaxIdle                   int    `yaml:"max_idle"`
	MinIdle                   int    `yaml:"min_idle"`
	MaxWaitMs                 int64  `yaml:"max_wait_ms"`
	WhenExhausted             string `yaml:"when_exhausted"`
	TimeBetweenEvictionRunsMs int64  `yaml:"time_between_eviction_runs_ms"`
	MinEvictableIdleTimeMs    int64  `yaml:"min_evictable_idle_time_ms"`
	LIFO                      bool   `yaml:"lifo"`
	TestWhileIdle             bool   `yaml:"test_while_idle"`
	MaxValidationAttempts     int    `yaml:"max_validation_attempts"`
}

type RegistryConfig struct {
	DBPath string `yaml:"db_path"`
}

type LoggingConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type Config struct {
	APIKey   string         `yaml:"api_key"`
	Engine   EngineConfig   `yaml:"engine"`
	Pool     PoolConfig     `yaml:"pool"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Address:          "localhost",
			Port:             40025,
			RemoteOpen:       true,
			NamespacePrefix:  "sandbox",
			CacheSize:        "16MiB",
			ConnectTimeoutMs: 5000,
		},
		Pool: PoolConfig{
			MaxActive:                 8,
			MaxTotal:                  -1,
			MaxIdle:                   8,
			MinIdle:                   0,
			MaxWaitMs:                 -1,
			WhenExhausted:             string(pool.WhenExhaustedBlock),
			TimeBetweenEvictionRunsMs: 30000,
			MinEvictableIdleTimeMs:    1800000,
			LIFO:                      true,
			MaxValidationAttempts:     3,
		},
		Registry: RegistryConfig{
			DBPath: ":memory:",
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Engine.Port < 0 || c.Engine.Port > 65535 {
		return fmt.Errorf("engine.port out of range: %d", c.Engine.Port)
	}
	if c.Engine.NamespacePrefix == "" {
		return fmt.Errorf("engine.namespace_prefix must not be empty")
	}
	if err := sandbox.ValidatePrefix(c.Engine.NamespacePrefix); err != nil {
		return fmt.Errorf("engine.namespace_prefix: %w", err)
	}
	if _, err := c.CacheSizeBytes(); err != nil {
		return err
	}
	if _, err := pool.ParseWhenExhausted(c.Pool.WhenExhausted); err != nil {
		return err
	}
	if c.Pool.MinIdle < 0 {
		return fmt.Errorf("pool.min_idle must not be negative, got: %d", c.Pool.MinIdle)
	}
	if c.Pool.MaxIdle >= 0 && c.Pool.MinIdle > c.Pool.MaxIdle {
		return fmt.Errorf("pool.min_idle (%d) exceeds pool.max_idle (%d)", c.Pool.MinIdle, c.Pool.MaxIdle)
	}
	switch c.Logging.Mode {
	case "production", "development":
	default:
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}
	return nil
}

// CacheSizeBytes parses engine.cache_size ("16MiB", "64m", ...). Empty means
// the engine default.
func (c *Config) CacheSizeBytes() (int64, error) {
	if c.Engine.CacheSize == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.Engine.CacheSize)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.cache_size %q: %w", c.Engine.CacheSize, err)
	}
	return n, nil
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Engine.ConnectTimeoutMs) * time.Millisecond
}

// PoolConfig converts the pool section into the pool's runtime configuration.
func (c *Config) PoolConfig() pool.Config {
	policy, err := pool.ParseWhenExhausted(c.Pool.WhenExhausted)
	if err != nil {
		policy = pool.WhenExhaustedBlock
	}
	return pool.Config{
		MaxActive:               c.Pool.MaxActive,
		MaxTotal:                c.Pool.MaxTotal,
		MaxIdle:                 c.Pool.MaxIdle,
		MinIdle:                 c.Pool.MinIdle,
		MaxWait:                 msDuration(c.Pool.MaxWaitMs),
		WhenExhausted:           policy,
		TimeBetweenEvictionRuns: msDuration(c.Pool.TimeBetweenEvictionRunsMs),
		MinEvictableIdleTime:    msDuration(c.Pool.MinEvictableIdleTimeMs),
		LIFO:                    c.Pool.LIFO,
		TestWhileIdle:           c.Pool.TestWhileIdle,
		MaxValidationAttempts:   c.Pool.MaxValidationAttempts,
	}
}

// msDuration keeps negative values negative so "wait forever" survives the
// conversion.
func msDuration(ms int64) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SANDKASTENDB_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("SANDKASTENDB_ADDRESS"); v != "" {
		cfg.Engine.Address = v
	}
	if v := os.Getenv("SANDKASTENDB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Port = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_REMOTE_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.RemoteOpen = b
		}
	}
	if v := os.Getenv("SANDKASTENDB_LOG_FILE"); v != "" {
		cfg.Engine.LogFile = v
	}
	if v := os.Getenv("SANDKASTENDB_NAMESPACE_PREFIX"); v != "" {
		cfg.Engine.NamespacePrefix = v
	}
	if v := os.Getenv("SANDKASTENDB_CACHE_SIZE"); v != "" {
		cfg.Engine.CacheSize = v
	}
	if v := os.Getenv("SANDKASTENDB_MAX_ACTIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxActive = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_MAX_TOTAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxTotal = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_MAX_IDLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxIdle = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_MIN_IDLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MinIdle = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_MAX_WAIT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pool.MaxWaitMs = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_WHEN_EXHAUSTED"); v != "" {
		cfg.Pool.WhenExhausted = v
	}
	if v := os.Getenv("SANDKASTENDB_EVICTION_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pool.TimeBetweenEvictionRunsMs = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_MIN_EVICTABLE_IDLE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pool.MinEvictableIdleTimeMs = n
		}
	}
	if v := os.Getenv("SANDKASTENDB_LIFO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pool.LIFO = b
		}
	}
	if v := os.Getenv("SANDKASTENDB_REGISTRY_DB_PATH"); v != "" {
		cfg.Registry.DBPath = v
	}
	if v := os.Getenv("SANDKASTENDB_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
	if v := os.Getenv("SANDKASTENDB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
