// Package config loads the tenantq binary's settings from the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DevMode bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Namespace prefixes every key, e.g. "app1:".
	Namespace string

	Concurrency    int
	WorkerID       string
	TenantID       string
	DequeueTimeout time.Duration
	DequeueRate    float64
	DequeueBurst   int
	CancelPoll     time.Duration

	BackoffBase time.Duration
	BackoffMax  time.Duration
	Retention   time.Duration

	StaleAfter        time.Duration
	SweepInterval     time.Duration
	AutoRetryInterval time.Duration
	AutoRetryMax      int
	AutoRetryCooldown time.Duration

	MetricsAddr     string
	MetricsInterval time.Duration
}

// Load reads the given .env files (default ".env"; a missing default is not an
// error) into the process environment, then builds a Config from it.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("error loading .env file: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("error loading env files: %w", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables, falling back to defaults.
func FromEnv() Config {
	return Config{
		DevMode:           getBool("DEV_MODE", false),
		RedisAddr:         getString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     getString("REDIS_PASSWORD", ""),
		RedisDB:           getInt("REDIS_DB", 0),
		Namespace:         getString("TENANTQ_NAMESPACE", ""),
		Concurrency:       getInt("TENANTQ_CONCURRENCY", 10),
		WorkerID:          getString("TENANTQ_WORKER_ID", ""),
		TenantID:          getString("TENANTQ_TENANT_ID", ""),
		DequeueTimeout:    getDuration("TENANTQ_DEQUEUE_TIMEOUT", 2*time.Second),
		DequeueRate:       getFloat("TENANTQ_DEQUEUE_RATE", 0),
		DequeueBurst:      getInt("TENANTQ_DEQUEUE_BURST", 1),
		CancelPoll:        getDuration("TENANTQ_CANCEL_POLL", time.Second),
		BackoffBase:       getDuration("TENANTQ_BACKOFF_BASE", 2*time.Second),
		BackoffMax:        getDuration("TENANTQ_BACKOFF_MAX", 10*time.Minute),
		Retention:         getDuration("TENANTQ_RETENTION", 24*time.Hour),
		StaleAfter:        getDuration("TENANTQ_STALE_AFTER", 5*time.Minute),
		SweepInterval:     getDuration("TENANTQ_SWEEP_INTERVAL", 30*time.Second),
		AutoRetryInterval: getDuration("TENANTQ_AUTORETRY_INTERVAL", 0),
		AutoRetryMax:      getInt("TENANTQ_AUTORETRY_MAX", 3),
		AutoRetryCooldown: getDuration("TENANTQ_AUTORETRY_COOLDOWN", 5*time.Minute),
		MetricsAddr:       getString("TENANTQ_METRICS_ADDR", ":9090"),
		MetricsInterval:   getDuration("TENANTQ_METRICS_INTERVAL", 15*time.Second),
	}
}

func (c Config) Validate() error {
	if c.RedisAddr == "" {
		return errors.New("REDIS_ADDR is empty")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency: %d", c.Concurrency)
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("invalid backoff: base=%s max=%s", c.BackoffBase, c.BackoffMax)
	}
	if c.SweepInterval > 0 && c.StaleAfter <= 0 {
		return fmt.Errorf("invalid stale-after: %s", c.StaleAfter)
	}
	if c.DequeueRate < 0 {
		return fmt.Errorf("invalid dequeue rate: %v", c.DequeueRate)
	}
	return nil
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
