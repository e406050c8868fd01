package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memlens/memlens/types"
)

// RedisStore keeps entries in a redis instance with the same latest-write-
// wins retrieval semantics as KVStore. Entry payloads live in one hash per
// namespace; ids come from a redis counter so writers on separate processes
// never collide. The logical clock, operation log, and LRU bookkeeping stay
// on the instance: attribution consumes them locally and each episode owns
// exactly one store.
type RedisStore struct {
	mu     sync.Mutex
	client *redis.Client
	prefix string
	cfg    Config

	clock     clock
	lastUsed  map[int64]int64
	accessSeq int64
	ops       []types.OperationLogEntry

	trace  *types.TraceLog
	logger *zap.Logger
}

// NewRedisStore creates a redis-backed store. It pings the instance once so
// a bad address fails at construction rather than on first write.
func NewRedisStore(ctx context.Context, client *redis.Client, prefix string, cfg Config, trace *types.TraceLog, logger *zap.Logger) (*RedisStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "memlens"
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		cfg:      cfg,
		lastUsed: make(map[int64]int64),
		trace:    trace,
		logger:   componentLogger(logger, "memory_store_redis"),
	}, nil
}

func (s *RedisStore) nsKey(ns types.Namespace) string {
	return fmt.Sprintf("%s:entries:%s", s.prefix, ns)
}

func (s *RedisStore) seqKey() string {
	return s.prefix + ":seq"
}

func (s *RedisStore) Write(ctx context.Context, ns types.Namespace, key, value string, source types.Source, trustScore float64, ttl int64) (int64, error) {
	if err := validateWrite(ns, source, trustScore); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}

	entry := types.MemoryEntry{
		ID:         id,
		Namespace:  ns,
		Key:        key,
		Value:      value,
		Source:     source,
		TrustScore: trustScore,
		CreatedAt:  s.clock.now(),
		TTL:        ttl,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.nsKey(ns), strconv.FormatInt(id, 10), payload).Err(); err != nil {
		return 0, fmt.Errorf("redis hset: %w", err)
	}

	s.ops = append(s.ops, types.OperationLogEntry{
		Operation: types.OpWrite,
		EntryKey:  key,
		Namespace: ns,
		Timestamp: s.clock.now(),
	})
	if s.trace != nil {
		s.trace.Append(types.EventMemoryWrite, map[string]any{
			"entry_id":    id,
			"namespace":   string(ns),
			"key":         key,
			"value":       value,
			"source":      string(source),
			"trust_score": trustScore,
		})
	}

	if _, err := s.evictLocked(ctx, ns); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *RedisStore) Retrieve(ctx context.Context, query string, k int, namespaces []types.Namespace) ([]types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := namespaces
	if len(search) == 0 {
		search = types.AllNamespaces()
	}

	now := s.clock.now()
	var pool []types.MemoryEntry
	for _, ns := range search {
		entries, err := s.loadNamespace(ctx, ns)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.Expired(now) {
				pool = append(pool, e)
			}
		}
	}

	pool = collapseNewest(pool)

	queryTokens := tokenize(query)
	scores := make([]float64, len(pool))
	ids := make([]int64, len(pool))
	createdAts := make([]int64, len(pool))
	for i, e := range pool {
		scores[i] = lexicalWeight*lexicalScore(queryTokens, e.Key, e.Value) +
			recencyWeight*recencyScore(e.CreatedAt, now)
		ids[i] = e.ID
		createdAts[i] = e.CreatedAt
	}

	var result []types.MemoryEntry
	if k > 0 {
		for _, idx := range rankEntries(scores, ids, createdAts) {
			result = append(result, pool[idx])
			if len(result) == k {
				break
			}
		}
	}

	for _, e := range result {
		s.accessSeq++
		s.lastUsed[e.ID] = s.accessSeq
	}

	s.ops = append(s.ops, types.OperationLogEntry{
		Operation:   types.OpRetrieve,
		EntryKey:    query,
		Namespace:   singleNamespace(namespaces),
		Timestamp:   now,
		ResultCount: len(result),
	})
	if s.trace != nil {
		s.trace.Append(types.EventMemoryRead, map[string]any{
			"query":        query,
			"k":            k,
			"result_count": len(result),
			"results":      traceResults(result),
		})
	}

	return result, nil
}

func (s *RedisStore) Logs(lastN int) []types.OperationLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if lastN > 0 && lastN < len(s.ops) {
		start = len(s.ops) - lastN
	}
	out := make([]types.OperationLogEntry, len(s.ops)-start)
	copy(out, s.ops[start:])
	return out
}

func (s *RedisStore) Evict(ctx context.Context, ns types.Namespace) (int, error) {
	if !ns.Valid() {
		return 0, types.NewErrorf(types.ErrInvalidNamespace, "namespace %q not in fixed set", ns)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(ctx, ns)
}

func (s *RedisStore) Counts() map[types.Namespace]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	now := s.clock.now()
	counts := make(map[types.Namespace]int)
	for _, ns := range types.AllNamespaces() {
		entries, err := s.loadNamespace(ctx, ns)
		if err != nil {
			s.logger.Warn("count load failed", zap.String("namespace", string(ns)), zap.Error(err))
			continue
		}
		var live []types.MemoryEntry
		for _, e := range entries {
			if !e.Expired(now) {
				live = append(live, e)
			}
		}
		if n := len(collapseNewest(live)); n > 0 {
			counts[ns] = n
		}
	}
	return counts
}

func (s *RedisStore) AdvanceTurn() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.advance()
}

func (s *RedisStore) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.now()
}

func (s *RedisStore) loadNamespace(ctx context.Context, ns types.Namespace) ([]types.MemoryEntry, error) {
	raw, err := s.client.HGetAll(ctx, s.nsKey(ns)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", ns, err)
	}
	entries := make([]types.MemoryEntry, 0, len(raw))
	for _, payload := range raw {
		var e types.MemoryEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry in %s: %w", ns, err)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *RedisStore) evictLocked(ctx context.Context, ns types.Namespace) (int, error) {
	entries, err := s.loadNamespace(ctx, ns)
	if err != nil {
		return 0, err
	}

	policy := s.cfg.policyFor(ns)
	capacity := s.cfg.capFor(ns)
	now := s.clock.now()

	var drop []types.MemoryEntry
	switch policy {
	case PolicyTTL:
		for _, e := range entries {
			if e.Expired(now) {
				drop = append(drop, e)
			}
		}
	case PolicyCapacity:
		if capacity > 0 && len(entries) > capacity {
			drop = entries[:len(entries)-capacity]
		}
	case PolicyLRU:
		if capacity > 0 && len(entries) > capacity {
			byUse := make([]types.MemoryEntry, len(entries))
			copy(byUse, entries)
			sort.Slice(byUse, func(i, j int) bool {
				ui, uj := s.lastUsed[byUse[i].ID], s.lastUsed[byUse[j].ID]
				if ui != uj {
					return ui < uj
				}
				return byUse[i].ID < byUse[j].ID
			})
			drop = byUse[:len(byUse)-capacity]
		}
	}

	if len(drop) == 0 {
		return 0, nil
	}

	fields := make([]string, len(drop))
	for i, e := range drop {
		fields[i] = strconv.FormatInt(e.ID, 10)
		delete(s.lastUsed, e.ID)
	}
	if err := s.client.HDel(ctx, s.nsKey(ns), fields...).Err(); err != nil {
		return 0, fmt.Errorf("redis hdel: %w", err)
	}

	s.ops = append(s.ops, types.OperationLogEntry{
		Operation:   types.OpEvict,
		EntryKey:    "eviction",
		Namespace:   ns,
		Timestamp:   now,
		ResultCount: len(drop),
	})
	return len(drop), nil
}

// collapseNewest keeps the newest entry per (namespace, key) pair, ordered
// by id for determinism.
func collapseNewest(entries []types.MemoryEntry) []types.MemoryEntry {
	type slot struct {
		ns  types.Namespace
		key string
	}
	newest := make(map[slot]types.MemoryEntry)
	for _, e := range entries {
		s := slot{ns: e.Namespace, key: e.Key}
		prev, ok := newest[s]
		if !ok || e.CreatedAt > prev.CreatedAt || (e.CreatedAt == prev.CreatedAt && e.ID > prev.ID) {
			newest[s] = e
		}
	}
	out := make([]types.MemoryEntry, 0, len(newest))
	for _, e := range newest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
