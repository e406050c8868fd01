package config

import (
	"time"

	"github.com/memlens/memlens/types"
)

// Config is the complete harness configuration. It is built once and passed
// by value into component constructors; no package reads ambient state.
type Config struct {
	// Memory configures the memory store backend and eviction.
	Memory MemoryConfig `yaml:"memory"`

	// Router configures the skill router.
	Router RouterConfig `yaml:"router"`

	// Policy configures the arbitration layer defenses.
	Policy PolicyConfig `yaml:"policy"`

	// Runner configures episode execution.
	Runner RunnerConfig `yaml:"runner"`

	// Redis configures the optional redis memory backend.
	Redis RedisConfig `yaml:"redis"`

	// Archive configures the sqlite run archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// Telemetry configures the OTel SDK.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Backend selects a memory store implementation.
type Backend string

const (
	BackendList  Backend = "list"
	BackendKV    Backend = "kv"
	BackendRedis Backend = "redis"
)

// EvictionPolicy selects how a namespace sheds entries beyond capacity.
type EvictionPolicy string

const (
	EvictCapacity EvictionPolicy = "capacity"
	EvictTTL      EvictionPolicy = "ttl"
	EvictLRU      EvictionPolicy = "lru"
)

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	// Backend: list | kv | redis.
	Backend Backend `yaml:"backend"`
	// MaxPerNamespace caps entry counts per namespace. Zero means unbounded.
	MaxPerNamespace map[types.Namespace]int `yaml:"max_per_namespace"`
	// Eviction selects the policy applied per namespace.
	Eviction map[types.Namespace]EvictionPolicy `yaml:"eviction"`
}

// RouterConfig configures skill selection.
type RouterConfig struct {
	// ConfidenceFloor below which the router reports a deliberate no-match.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

// PolicyConfig configures the arbitration defenses.
type PolicyConfig struct {
	// TrustFloor below which retrieved content is omitted from the
	// composed response (still traced, never silently dropped).
	TrustFloor float64 `yaml:"trust_floor"`
	// Retrieval depth per turn.
	RetrieveK int `yaml:"retrieve_k"`
}

// RunnerConfig configures episode execution.
type RunnerConfig struct {
	// Parallelism bounds concurrently running episodes. Each episode owns
	// its own store and trace log, so isolation is structural.
	Parallelism int `yaml:"parallelism"`
	// TurnsPerSecond throttles turn callbacks when a live model backs the
	// driver. Zero disables throttling; the core itself does no I/O.
	TurnsPerSecond float64 `yaml:"turns_per_second"`
}

// RedisConfig configures the redis memory backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures the sqlite run archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: json or console.
	Format string `yaml:"format"`
}

// TelemetryConfig configures the OTel SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Validate checks cross-field constraints. Misconfiguration is a fatal
// construction-time error, never a call-time one.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case BackendList, BackendKV, BackendRedis:
	default:
		return types.NewErrorf(types.ErrInvalidConfig, "unknown memory backend %q", c.Memory.Backend)
	}
	for ns := range c.Memory.MaxPerNamespace {
		if !ns.Valid() {
			return types.NewErrorf(types.ErrInvalidNamespace, "capacity for unknown namespace %q", ns)
		}
	}
	for ns, policy := range c.Memory.Eviction {
		if !ns.Valid() {
			return types.NewErrorf(types.ErrInvalidNamespace, "eviction for unknown namespace %q", ns)
		}
		switch policy {
		case EvictCapacity, EvictTTL, EvictLRU:
		default:
			return types.NewErrorf(types.ErrInvalidEviction, "unknown eviction policy %q for namespace %q", policy, ns)
		}
	}
	if c.Router.ConfidenceFloor < 0 || c.Router.ConfidenceFloor > 1 {
		return types.NewErrorf(types.ErrInvalidConfig, "router confidence floor %v outside [0,1]", c.Router.ConfidenceFloor)
	}
	if c.Policy.TrustFloor < 0 || c.Policy.TrustFloor > 1 {
		return types.NewErrorf(types.ErrInvalidConfig, "policy trust floor %v outside [0,1]", c.Policy.TrustFloor)
	}
	if c.Policy.RetrieveK <= 0 {
		return types.NewErrorf(types.ErrInvalidConfig, "retrieve_k must be positive, got %d", c.Policy.RetrieveK)
	}
	if c.Runner.Parallelism < 1 {
		return types.NewErrorf(types.ErrInvalidConfig, "runner parallelism must be at least 1, got %d", c.Runner.Parallelism)
	}
	return nil
}
