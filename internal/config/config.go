package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. AKHBAR_BACKEND_BASE_URL.
const EnvPrefix = "AKHBAR"

// Config holds all configuration for the akhbar server and CLI.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Poll      PollConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// BackendConfig points at the archive REST backend that runs the OCR pipeline.
type BackendConfig struct {
	BaseURL       string
	Timeout       time.Duration
	SubmitTimeout time.Duration
}

type PollConfig struct {
	Interval time.Duration
}

// RedisConfig is optional; an empty URL selects the in-process cache.
type RedisConfig struct {
	URL string
}

type CacheConfig struct {
	TTL          time.Duration
	CompletedTTL time.Duration
}

type SessionConfig struct {
	File  string
	Token string
}

type RateLimitConfig struct {
	SubmitsPerMinute int
}

// Load reads configuration from AKHBAR_* environment variables and returns a validated Config.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an optional YAML file underneath the environment.
// Environment variables always win over file values.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", p, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("server.port"),
			Env:  v.GetString("server.env"),
		},
		Backend: BackendConfig{
			BaseURL:       strings.TrimRight(v.GetString("backend.base_url"), "/"),
			Timeout:       v.GetDuration("backend.timeout"),
			SubmitTimeout: v.GetDuration("backend.submit_timeout"),
		},
		Poll: PollConfig{
			Interval: v.GetDuration("poll.interval"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Cache: CacheConfig{
			TTL:          v.GetDuration("cache.ttl"),
			CompletedTTL: v.GetDuration("cache.completed_ttl"),
		},
		Session: SessionConfig{
			File:  v.GetString("session.file"),
			Token: v.GetString("session.token"),
		},
		RateLimit: RateLimitConfig{
			SubmitsPerMinute: v.GetInt("ratelimit.submits_per_minute"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.env", "development")
	v.SetDefault("backend.base_url", "http://localhost:5000")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.submit_timeout", 5*time.Minute)
	v.SetDefault("poll.interval", 2*time.Second)
	v.SetDefault("redis.url", "")
	v.SetDefault("cache.ttl", 30*time.Minute)
	v.SetDefault("cache.completed_ttl", 30*time.Second)
	v.SetDefault("session.file", defaultSessionFile())
	v.SetDefault("session.token", "")
	v.SetDefault("ratelimit.submits_per_minute", 6)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".akhbar", "session.json")
	}
	return filepath.Join(home, ".akhbar", "session.json")
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("AKHBAR_BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("AKHBAR_BACKEND_BASE_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("AKHBAR_BACKEND_TIMEOUT must be positive, got %s", c.Backend.Timeout)
	}
	if c.Backend.SubmitTimeout <= 0 {
		return fmt.Errorf("AKHBAR_BACKEND_SUBMIT_TIMEOUT must be positive, got %s", c.Backend.SubmitTimeout)
	}
	if c.Poll.Interval < 100*time.Millisecond {
		return fmt.Errorf("AKHBAR_POLL_INTERVAL must be at least 100ms, got %s", c.Poll.Interval)
	}
	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("AKHBAR_REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}
	if c.Cache.CompletedTTL > c.Cache.TTL {
		return fmt.Errorf("AKHBAR_CACHE_COMPLETED_TTL (%s) must not exceed AKHBAR_CACHE_TTL (%s)",
			c.Cache.CompletedTTL, c.Cache.TTL)
	}
	if c.Session.File == "" && c.Session.Token == "" {
		return errors.New("AKHBAR_SESSION_FILE or AKHBAR_SESSION_TOKEN is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("AKHBAR_SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}
