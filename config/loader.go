package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config from defaults, an optional YAML file, and
// environment variable overrides, in that precedence order.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memlens.yaml").
//	    WithEnvPrefix("MEMLENS").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader.
func NewLoader() *Loader {
	return &Loader{envPrefix: "MEMLENS"}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.env("MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = Backend(v)
	}
	if v := l.env("ROUTER_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Router.ConfidenceFloor = f
		}
	}
	if v := l.env("POLICY_TRUST_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.TrustFloor = f
		}
	}
	if v := l.env("POLICY_RETRIEVE_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.RetrieveK = n
		}
	}
	if v := l.env("RUNNER_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.Parallelism = n
		}
	}
	if v := l.env("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := l.env("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := l.env("ARCHIVE_PATH"); v != "" {
		cfg.Archive.Enabled = true
		cfg.Archive.Path = v
	}
	if v := l.env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := l.env("TELEMETRY_ENDPOINT"); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.OTLPEndpoint = v
	}
}

func (l *Loader) env(key string) string {
	return strings.TrimSpace(os.Getenv(l.envPrefix + "_" + key))
}
