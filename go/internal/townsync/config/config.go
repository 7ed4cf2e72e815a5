// Package config loads townsync settings from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/agenttown/townsync/go/internal/townsync/connection"
	"github.com/agenttown/townsync/go/internal/townsync/publisher"
	"github.com/agenttown/townsync/go/internal/townsync/resync"
)

// FileEnv names the environment variable pointing at the YAML config file.
const FileEnv = "TOWNSYNC_CONFIG"

// Config is the full service configuration. Environment variables take
// precedence over the YAML file, which takes precedence over defaults.
type Config struct {
	Channel struct {
		URL                  string        `yaml:"url"`
		Token                string        `yaml:"token"`
		BaseInterval         time.Duration `yaml:"base_interval"`
		LowFrequencyInterval time.Duration `yaml:"low_frequency_interval"`
		MaxBackoffAttempts   int           `yaml:"max_backoff_attempts"`
	} `yaml:"channel"`

	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Resync struct {
		Debounce time.Duration `yaml:"debounce"`
	} `yaml:"resync"`

	Status struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"status"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Cache struct {
		// Path is a SQLite file path or a postgres:// DSN. Empty disables the cache.
		Path string `yaml:"path"`
	} `yaml:"cache"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration. NATS publishing is off until a
// URL is configured.
func Default() Config {
	conn := connection.DefaultConfig()

	var c Config
	c.Channel.URL = "ws://localhost:3000/ws"
	c.Channel.BaseInterval = conn.BaseInterval
	c.Channel.LowFrequencyInterval = conn.LowFrequencyInterval
	c.Channel.MaxBackoffAttempts = conn.MaxBackoffAttempts
	c.API.BaseURL = "http://localhost:3000"
	c.API.Timeout = 15 * time.Second
	c.Resync.Debounce = resync.DefaultDebounce
	c.Status.Addr = ":8090"
	c.Status.AllowedOrigins = []string{"*"}
	c.NATS.SubjectPrefix = publisher.DefaultConfig().SubjectPrefix
	c.Cache.Path = "data/townsync.db"
	c.LogLevel = "info"
	return c
}

// Load reads .env (if present), the YAML file named by TOWNSYNC_CONFIG (if
// set) and then environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Channel.URL = getEnv("TOWNSYNC_WS_URL", c.Channel.URL)
	c.Channel.Token = getEnv("TOWNSYNC_TOKEN", c.Channel.Token)
	c.Channel.BaseInterval = getEnvAsDuration("TOWNSYNC_RECONNECT_BASE", c.Channel.BaseInterval)
	c.Channel.LowFrequencyInterval = getEnvAsDuration("TOWNSYNC_RECONNECT_CAP", c.Channel.LowFrequencyInterval)
	c.Channel.MaxBackoffAttempts = getEnvAsInt("TOWNSYNC_RECONNECT_MAX_ATTEMPTS", c.Channel.MaxBackoffAttempts)

	c.API.BaseURL = getEnv("TOWNSYNC_API_URL", c.API.BaseURL)
	c.API.Timeout = getEnvAsDuration("TOWNSYNC_API_TIMEOUT", c.API.Timeout)

	c.Resync.Debounce = getEnvAsDuration("TOWNSYNC_RESYNC_DEBOUNCE", c.Resync.Debounce)

	c.Status.Addr = getEnv("TOWNSYNC_STATUS_ADDR", c.Status.Addr)
	if origins := os.Getenv("TOWNSYNC_CORS_ORIGINS"); origins != "" {
		c.Status.AllowedOrigins = splitList(origins)
	}

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("TOWNSYNC_NATS_PREFIX", c.NATS.SubjectPrefix)

	c.Cache.Path = getEnv("TOWNSYNC_CACHE_PATH", c.Cache.Path)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate reports settings the service cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Channel.URL) == "" {
		return fmt.Errorf("channel url is required")
	}
	if c.Channel.BaseInterval <= 0 || c.Channel.LowFrequencyInterval <= 0 {
		return fmt.Errorf("reconnect intervals must be positive")
	}
	if c.Channel.BaseInterval > c.Channel.LowFrequencyInterval {
		return fmt.Errorf("reconnect base interval %s exceeds cap %s", c.Channel.BaseInterval, c.Channel.LowFrequencyInterval)
	}
	if c.Channel.MaxBackoffAttempts < 0 {
		return fmt.Errorf("max backoff attempts must not be negative")
	}
	return nil
}

// ConnectionConfig projects the channel settings onto the connection manager.
func (c Config) ConnectionConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.URL = c.Channel.URL
	cfg.Token = c.Channel.Token
	cfg.BaseInterval = c.Channel.BaseInterval
	cfg.LowFrequencyInterval = c.Channel.LowFrequencyInterval
	cfg.MaxBackoffAttempts = c.Channel.MaxBackoffAttempts
	return cfg
}

// ResyncConfig projects the resync settings onto the scheduler.
func (c Config) ResyncConfig() resync.Config {
	cfg := resync.DefaultConfig()
	cfg.Debounce = c.Resync.Debounce
	if c.API.Timeout > 0 {
		cfg.FetchTimeout = c.API.Timeout
	}
	return cfg
}

// PublisherConfig projects the NATS settings onto the publisher.
func (c Config) PublisherConfig() publisher.Config {
	cfg := publisher.DefaultConfig()
	cfg.URL = c.NATS.URL
	cfg.SubjectPrefix = c.NATS.SubjectPrefix
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer environment value")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration environment value")
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
