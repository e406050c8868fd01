package memory

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/memlens/memlens/types"
)

// core carries the state and behavior shared by ListStore and KVStore. The
// only difference between the two backends is the collapse flag: KVStore
// reduces the retrieval candidate pool to the newest entry per
// (namespace, key) pair before ranking.
type core struct {
	mu  sync.Mutex
	cfg Config

	collapse bool

	clock   clock
	nextID  int64
	entries []types.MemoryEntry

	// LRU bookkeeping. Entry metadata stays out of MemoryEntry itself so
	// entries remain immutable once written.
	lastUsed  map[int64]int64
	accessSeq int64

	ops []types.OperationLogEntry

	trace  *types.TraceLog
	logger *zap.Logger
}

func newCore(cfg Config, collapse bool, trace *types.TraceLog, logger *zap.Logger) (*core, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &core{
		cfg:      cfg,
		collapse: collapse,
		lastUsed: make(map[int64]int64),
		trace:    trace,
		logger:   logger,
	}, nil
}

func (c *core) Write(ctx context.Context, ns types.Namespace, key, value string, source types.Source, trustScore float64, ttl int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateWrite(ns, source, trustScore); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	entry := types.MemoryEntry{
		ID:         c.nextID,
		Namespace:  ns,
		Key:        key,
		Value:      value,
		Source:     source,
		TrustScore: trustScore,
		CreatedAt:  c.clock.now(),
		TTL:        ttl,
	}
	c.entries = append(c.entries, entry)

	c.ops = append(c.ops, types.OperationLogEntry{
		Operation: types.OpWrite,
		EntryKey:  key,
		Namespace: ns,
		Timestamp: c.clock.now(),
	})
	if c.trace != nil {
		c.trace.Append(types.EventMemoryWrite, map[string]any{
			"entry_id":    entry.ID,
			"namespace":   string(ns),
			"key":         key,
			"value":       value,
			"source":      string(source),
			"trust_score": trustScore,
		})
	}

	// Capacity invariants must hold before the next retrieve.
	c.evictLocked(ns)

	return entry.ID, nil
}

func (c *core) Retrieve(ctx context.Context, query string, k int, namespaces []types.Namespace) ([]types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	candidates := c.candidatesLocked(namespaces)

	queryTokens := tokenize(query)
	scores := make([]float64, len(candidates))
	ids := make([]int64, len(candidates))
	createdAts := make([]int64, len(candidates))
	now := c.clock.now()
	for i, e := range candidates {
		scores[i] = lexicalWeight*lexicalScore(queryTokens, e.Key, e.Value) +
			recencyWeight*recencyScore(e.CreatedAt, now)
		ids[i] = e.ID
		createdAts[i] = e.CreatedAt
	}

	var result []types.MemoryEntry
	if k > 0 {
		for _, idx := range rankEntries(scores, ids, createdAts) {
			result = append(result, candidates[idx])
			if len(result) == k {
				break
			}
		}
	}

	for _, e := range result {
		c.accessSeq++
		c.lastUsed[e.ID] = c.accessSeq
	}

	c.ops = append(c.ops, types.OperationLogEntry{
		Operation:   types.OpRetrieve,
		EntryKey:    query,
		Namespace:   singleNamespace(namespaces),
		Timestamp:   now,
		ResultCount: len(result),
	})
	if c.trace != nil {
		c.trace.Append(types.EventMemoryRead, map[string]any{
			"query":        query,
			"k":            k,
			"result_count": len(result),
			"results":      traceResults(result),
		})
	}

	return result, nil
}

func (c *core) Logs(lastN int) []types.OperationLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if lastN > 0 && lastN < len(c.ops) {
		start = len(c.ops) - lastN
	}
	out := make([]types.OperationLogEntry, len(c.ops)-start)
	copy(out, c.ops[start:])
	return out
}

func (c *core) Evict(ctx context.Context, ns types.Namespace) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !ns.Valid() {
		return 0, types.NewErrorf(types.ErrInvalidNamespace, "namespace %q not in fixed set", ns)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(ns), nil
}

func (c *core) Counts() map[types.Namespace]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[types.Namespace]int)
	for _, e := range c.candidatesLocked(nil) {
		counts[e.Namespace]++
	}
	return counts
}

func (c *core) AdvanceTurn() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.advance()
}

func (c *core) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.now()
}

// candidatesLocked returns the live retrieval pool: non-expired entries in
// the allowed namespaces, collapsed to latest-write-wins when the backend
// asks for it. Superseded entries are skipped, not deleted; they stay in
// the store and the operation log.
func (c *core) candidatesLocked(namespaces []types.Namespace) []types.MemoryEntry {
	allowed := func(ns types.Namespace) bool { return true }
	if len(namespaces) > 0 {
		set := make(map[types.Namespace]struct{}, len(namespaces))
		for _, ns := range namespaces {
			set[ns] = struct{}{}
		}
		allowed = func(ns types.Namespace) bool {
			_, ok := set[ns]
			return ok
		}
	}

	now := c.clock.now()
	var pool []types.MemoryEntry
	for _, e := range c.entries {
		if !allowed(e.Namespace) || e.Expired(now) {
			continue
		}
		pool = append(pool, e)
	}

	if !c.collapse {
		return pool
	}
	return collapseNewest(pool)
}

// evictLocked applies the namespace's configured policy and returns the
// number of entries removed.
func (c *core) evictLocked(ns types.Namespace) int {
	policy := c.cfg.policyFor(ns)
	capacity := c.cfg.capFor(ns)
	now := c.clock.now()

	var inNS []types.MemoryEntry
	for _, e := range c.entries {
		if e.Namespace == ns {
			inNS = append(inNS, e)
		}
	}

	drop := make(map[int64]struct{})
	switch policy {
	case PolicyTTL:
		for _, e := range inNS {
			if e.Expired(now) {
				drop[e.ID] = struct{}{}
			}
		}
	case PolicyCapacity:
		if capacity > 0 && len(inNS) > capacity {
			sort.Slice(inNS, func(i, j int) bool {
				if inNS[i].CreatedAt != inNS[j].CreatedAt {
					return inNS[i].CreatedAt < inNS[j].CreatedAt
				}
				return inNS[i].ID < inNS[j].ID
			})
			for _, e := range inNS[:len(inNS)-capacity] {
				drop[e.ID] = struct{}{}
			}
		}
	case PolicyLRU:
		if capacity > 0 && len(inNS) > capacity {
			sort.Slice(inNS, func(i, j int) bool {
				ui, uj := c.lastUsed[inNS[i].ID], c.lastUsed[inNS[j].ID]
				if ui != uj {
					return ui < uj
				}
				return inNS[i].ID < inNS[j].ID
			})
			for _, e := range inNS[:len(inNS)-capacity] {
				drop[e.ID] = struct{}{}
			}
		}
	}

	if len(drop) == 0 {
		return 0
	}

	kept := c.entries[:0]
	for _, e := range c.entries {
		if _, gone := drop[e.ID]; gone {
			delete(c.lastUsed, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept

	c.ops = append(c.ops, types.OperationLogEntry{
		Operation:   types.OpEvict,
		EntryKey:    "eviction",
		Namespace:   ns,
		Timestamp:   now,
		ResultCount: len(drop),
	})
	c.logger.Debug("evicted entries",
		zap.String("namespace", string(ns)),
		zap.String("policy", string(policy)),
		zap.Int("count", len(drop)))

	return len(drop)
}

func singleNamespace(namespaces []types.Namespace) types.Namespace {
	if len(namespaces) == 1 {
		return namespaces[0]
	}
	return ""
}

func traceResults(entries []types.MemoryEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"entry_id":    e.ID,
			"namespace":   string(e.Namespace),
			"key":         e.Key,
			"value":       e.Value,
			"source":      string(e.Source),
			"trust_score": e.TrustScore,
		})
	}
	return out
}
