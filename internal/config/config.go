// Package config loads quadsync configuration from defaults, an optional
// JSON config file at $XDG_CONFIG_HOME/quadsync/config.json, and QUADSYNC_*
// environment variable overrides (highest precedence).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Cache   CacheConfig   `json:"cache"`
	Sync    SyncConfig    `json:"sync"`
	Log     LogConfig     `json:"log"`
}

type ServerConfig struct {
	Port int `json:"port"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

type CacheConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// TTLSeconds is how long cached documents live. 0 keeps the adapter
	// default (one hour).
	TTLSeconds int `json:"ttl_seconds"`
}

type SyncConfig struct {
	// CallTimeoutMS is the hard per-adapter-call deadline in milliseconds.
	CallTimeoutMS int `json:"call_timeout_ms"`
	// SweepIntervalSeconds is how often the consistency sweeper runs.
	// 0 disables the sweeper.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	// SweepBatch is how many recent documents each sweep validates.
	SweepBatch int `json:"sweep_batch"`
}

type LogConfig struct {
	Level string `json:"level"`
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4600},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Cache:   CacheConfig{Addr: "localhost:6379"},
		Sync: SyncConfig{
			CallTimeoutMS:        5000,
			SweepIntervalSeconds: 300,
			SweepBatch:           50,
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "quadsync-data"
		}
	}
	return filepath.Join(dir, "quadsync")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "quadsync", "config.json")
}

// Load reads configuration: defaults, then the JSON config file (if it
// exists), then QUADSYNC_* environment variables.
func Load() (Config, error) {
	return loadFrom(configFilePath(), os.Getenv)
}

func loadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if cfg.Sync.CallTimeoutMS <= 0 {
		return Config{}, fmt.Errorf("sync.call_timeout_ms must be positive, got %d", cfg.Sync.CallTimeoutMS)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	if v := getenv("QUADSYNC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QUADSYNC_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("QUADSYNC_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("QUADSYNC_REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := getenv("QUADSYNC_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := getenv("QUADSYNC_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QUADSYNC_REDIS_DB %q: %w", v, err)
		}
		cfg.Cache.DB = db
	}
	if v := getenv("QUADSYNC_CALL_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QUADSYNC_CALL_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.Sync.CallTimeoutMS = ms
	}
	if v := getenv("QUADSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// CallTimeout returns the per-adapter-call deadline as a duration.
func (c SyncConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// SweepInterval returns the sweeper interval; zero disables sweeping.
func (c SyncConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// TTL returns the cache TTL; zero means adapter default.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
