// Package config loads the gateway configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a bare integer of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration for the trading gateway.
type Config struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Auth     Auth     `yaml:"auth"`
	Sessions Sessions `yaml:"sessions"`
	Orders   Orders   `yaml:"orders"`
}

// Server holds network listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Auth holds token signing configuration.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Sessions controls the connection pool's background maintenance.
type Sessions struct {
	IdleThreshold   Duration `yaml:"idle_threshold"`
	EvictInterval   Duration `yaml:"evict_interval"`
	HealthInterval  Duration `yaml:"health_interval"`
	OAuthStateTTL   Duration `yaml:"oauth_state_ttl"`
	OAuthSweepEvery Duration `yaml:"oauth_sweep_every"`
}

// Orders controls the reconciliation poller.
type Orders struct {
	ReconcileInterval Duration `yaml:"reconcile_interval"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server:  Server{Port: "8080"},
		Storage: Storage{SQLitePath: "gateway.db"},
		Auth:    Auth{JWTSecret: "dev-secret-change-me"},
		Sessions: Sessions{
			IdleThreshold:   Duration(30 * time.Minute),
			EvictInterval:   Duration(5 * time.Minute),
			HealthInterval:  Duration(2 * time.Minute),
			OAuthStateTTL:   Duration(10 * time.Minute),
			OAuthSweepEvery: Duration(time.Minute),
		},
		Orders: Orders{ReconcileInterval: Duration(30 * time.Second)},
	}
}

// Load reads the YAML configuration at path, falling back to defaults for
// unset fields, then applies environment variable overrides. An empty path
// returns the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}
