// Package config loads the client configuration from an optional YAML file,
// then the environment. Environment values win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API       APIConfig      `yaml:"api"`
	Identity  IdentityConfig `yaml:"identity"`
	Storage   StorageConfig  `yaml:"storage"`
	Ads       AdsConfig      `yaml:"ads"`
	Server    ServerConfig   `yaml:"server"`
	Log       LogConfig      `yaml:"log"`
	DevUserID string         `yaml:"dev_user_id"`
}

type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type IdentityConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	// MaxAge after which a cached identity is re-read before authenticating.
	MaxAge time.Duration `yaml:"max_age"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"` // memory, file, sqlite, badger, redis, mongo
	Path    string      `yaml:"path"`
	Device  string      `yaml:"device"`
	Redis   RedisConfig `yaml:"redis"`
	Mongo   MongoConfig `yaml:"mongo"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type AdsConfig struct {
	Countdown time.Duration `yaml:"countdown"`
}

type ServerConfig struct {
	Listen        string `yaml:"listen"`
	StaticDir     string `yaml:"static_dir"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 15 * time.Second,
			Burst:   4,
		},
		Identity: IdentityConfig{
			Attempts: 10,
			Delay:    150 * time.Millisecond,
			MaxAge:   time.Hour,
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    defaultStatePath(),
			Mongo:   MongoConfig{Database: "kina"},
		},
		Ads:    AdsConfig{Countdown: 15 * time.Second},
		Server: ServerConfig{Listen: ":7955", StaticDir: filepath.Join("frontend", "dist"), RatePerMinute: 120},
		Log:    LogConfig{Level: "info"},
	}
}

func defaultStatePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "kina", "state.json")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "kina", "state.json")
	}
	return filepath.Join(os.TempDir(), "kina", "state.json")
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	ApplyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	// #nosec G304 -- the config path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: multiple documents or trailing content", path)
	}
	return nil
}
