package memory

import (
	"context"

	"github.com/memlens/memlens/types"
)

// Store is the capability contract shared by all memory backends.
//
// Write and Evict are synchronous: they complete before returning, so the
// next Retrieve on the same instance observes a consistent post-eviction
// view. No background eviction is permitted; attribution correctness
// depends on the operation log reflecting effects in strict call order.
type Store interface {
	// Write appends an immutable entry and returns its id. It fails with
	// INVALID_NAMESPACE or INVALID_TRUST_SCORE on malformed input, with no
	// partial effect. Eviction for the namespace runs before Write returns.
	Write(ctx context.Context, ns types.Namespace, key, value string, source types.Source, trustScore float64, ttl int64) (int64, error)

	// Retrieve returns at most k entries, most relevant first. Relevance
	// combines lexical overlap with recency. A nil namespaces filter means
	// all namespaces. An empty result is not an error.
	Retrieve(ctx context.Context, query string, k int, namespaces []types.Namespace) ([]types.MemoryEntry, error)

	// Logs returns the operation log, oldest first. lastN <= 0 returns all.
	// Read-only, no side effect.
	Logs(lastN int) []types.OperationLogEntry

	// Evict applies the namespace's configured policy and returns the
	// number of entries removed.
	Evict(ctx context.Context, ns types.Namespace) (int, error)

	// Counts returns the number of live, non-expired entries per namespace.
	Counts() map[types.Namespace]int

	// AdvanceTurn advances the logical clock by one turn and returns the
	// new reading. Called once per episode turn by the driver.
	AdvanceTurn() int64

	// Now returns the current logical clock reading.
	Now() int64
}

// Policy selects how a namespace sheds entries.
type Policy string

const (
	PolicyCapacity Policy = "capacity"
	PolicyTTL      Policy = "ttl"
	PolicyLRU      Policy = "lru"
)

// Config configures a memory store backend. Passed explicitly at
// construction; stores never read ambient state.
type Config struct {
	// MaxPerNamespace caps live entries per namespace. Zero or absent
	// means unbounded.
	MaxPerNamespace map[types.Namespace]int
	// Eviction selects the per-namespace policy. Absent namespaces
	// default to PolicyCapacity.
	Eviction map[types.Namespace]Policy
}

func (c Config) validate() error {
	for ns := range c.MaxPerNamespace {
		if !ns.Valid() {
			return types.NewErrorf(types.ErrInvalidNamespace, "capacity configured for unknown namespace %q", ns)
		}
	}
	for ns, p := range c.Eviction {
		if !ns.Valid() {
			return types.NewErrorf(types.ErrInvalidNamespace, "eviction configured for unknown namespace %q", ns)
		}
		switch p {
		case PolicyCapacity, PolicyTTL, PolicyLRU:
		default:
			return types.NewErrorf(types.ErrInvalidEviction, "unknown eviction policy %q for namespace %q", p, ns)
		}
	}
	return nil
}

func (c Config) policyFor(ns types.Namespace) Policy {
	if p, ok := c.Eviction[ns]; ok {
		return p
	}
	return PolicyCapacity
}

func (c Config) capFor(ns types.Namespace) int {
	return c.MaxPerNamespace[ns]
}

func validateWrite(ns types.Namespace, source types.Source, trustScore float64) error {
	if !ns.Valid() {
		return types.NewErrorf(types.ErrInvalidNamespace, "namespace %q not in fixed set", ns)
	}
	if trustScore < 0 || trustScore > 1 {
		return types.NewErrorf(types.ErrInvalidTrustScore, "trust score %v outside [0,1]", trustScore)
	}
	if !source.Valid() {
		return types.NewErrorf(types.ErrInvalidSource, "unknown source %q", source)
	}
	return nil
}
