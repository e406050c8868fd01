package config

import (
	"time"

	"github.com/memlens/memlens/types"
)

// DefaultConfig returns the default harness configuration.
func DefaultConfig() *Config {
	return &Config{
		Memory:    DefaultMemoryConfig(),
		Router:    RouterConfig{ConfidenceFloor: 0.25},
		Policy:    PolicyConfig{TrustFloor: 0.3, RetrieveK: 5},
		Runner:    RunnerConfig{Parallelism: 4},
		Redis:     DefaultRedisConfig(),
		Archive:   ArchiveConfig{Enabled: false, Path: "memlens.db"},
		Log:       LogConfig{Level: "info", Format: "console"},
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultMemoryConfig returns the default memory store configuration.
// Per-namespace caps follow the standard evaluation setup: working memory
// is the tightest so eviction pressure shows up there first.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend: BackendList,
		MaxPerNamespace: map[types.Namespace]int{
			types.NamespaceEpisodic:    100,
			types.NamespaceSemantic:    100,
			types.NamespacePreferences: 50,
			types.NamespaceToolTraces:  100,
			types.NamespaceSkills:      50,
			types.NamespaceWorking:     20,
		},
		Eviction: map[types.Namespace]EvictionPolicy{
			types.NamespaceEpisodic:    EvictCapacity,
			types.NamespaceSemantic:    EvictCapacity,
			types.NamespacePreferences: EvictCapacity,
			types.NamespaceToolTraces:  EvictLRU,
			types.NamespaceSkills:      EvictCapacity,
			types.NamespaceWorking:     EvictTTL,
		},
	}
}

// DefaultRedisConfig returns the default redis backend configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		ServiceName:  "memlens",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
	}
}
