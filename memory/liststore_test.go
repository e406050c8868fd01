package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memlens/memlens/types"
)

func newTestListStore(t *testing.T, cfg Config) *ListStore {
	t.Helper()
	store, err := NewListStore(cfg, nil, nil)
	require.NoError(t, err)
	return store
}

func TestListStore_WriteValidation(t *testing.T) {
	store := newTestListStore(t, Config{})
	ctx := context.Background()

	t.Run("invalid namespace", func(t *testing.T) {
		_, err := store.Write(ctx, "scratch", "k", "v", types.SourceUser, 1.0, 0)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidNamespace, types.GetErrorCode(err))
	})

	t.Run("trust score out of range", func(t *testing.T) {
		_, err := store.Write(ctx, types.NamespaceSemantic, "k", "v", types.SourceUser, 1.5, 0)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidTrustScore, types.GetErrorCode(err))

		_, err = store.Write(ctx, types.NamespaceSemantic, "k", "v", types.SourceUser, -0.1, 0)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidTrustScore, types.GetErrorCode(err))
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := store.Write(ctx, types.NamespaceSemantic, "k", "v", "attacker", 1.0, 0)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidSource, types.GetErrorCode(err))
	})

	t.Run("failed write has no effect", func(t *testing.T) {
		assert.Empty(t, store.Counts())
		assert.Empty(t, store.Logs(0))
	})
}

func TestListStore_IDsStrictlyIncrease(t *testing.T) {
	store := newTestListStore(t, Config{})
	ctx := context.Background()

	var last int64
	for i := 0; i < 10; i++ {
		id, err := store.Write(ctx, types.NamespaceEpisodic, "k", "v", types.SourceAgent, 0.9, 0)
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestListStore_PreferenceRecallRanking(t *testing.T) {
	store := newTestListStore(t, Config{})
	ctx := context.Background()

	_, err := store.Write(ctx, types.NamespacePreferences, "user:alice|food", "vegetarian", types.SourceUser, 1.0, 0)
	require.NoError(t, err)
	_, err = store.Write(ctx, types.NamespacePreferences, "user:alice|avoid", "soy", types.SourceUser, 1.0, 0)
	require.NoError(t, err)

	results, err := store.Retrieve(ctx, "food preferences", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2, "both preference entries must come back")

	// "food" appears in the first entry's key, so it outranks the second
	// despite being written earlier.
	assert.Equal(t, "vegetarian", results[0].Value)
	assert.Equal(t, "soy", results[1].Value)
}

func TestListStore_TieBrokenByInsertionOrder(t *testing.T) {
	store := newTestListStore(t, Config{})
	ctx := context.Background()

	// Same turn, no lexical overlap with the query: pure tie.
	_, err := store.Write(ctx, types.NamespaceSemantic, "a", "alpha", types.SourceUser, 1.0, 0)
	require.NoError(t, err)
	_, err = store.Write(ctx, types.NamespaceSemantic, "b", "beta", types.SourceUser, 1.0, 0)
	require.NoError(t, err)

	results, err := store.Retrieve(ctx, "zzz", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Value)
	assert.Equal(t, "beta", results[1].Value)
}

func TestListStore_NamespaceFilter(t *testing.T) {
	store := newTestListStore(t, Config{})
	ctx := context.Background()

	_, err := store.Write(ctx, types.NamespaceSemantic, "fact", "the sky is blue", types.SourceUser, 1.0, 0)
	require.NoError(t, err)
	_, err = store.Write(ctx, types.NamespaceEpisodic, "event", "sky watched yesterday", types.SourceUser, 1.0, 0)
	require.NoError(t, err)

	results, err := store.Retrieve(ctx, "sky", 5, []types.Namespace{types.NamespaceSemantic})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.NamespaceSemantic, results[0].Namespace)
}

func TestListStore_EmptyResultIsNotError(t *testing.T) {
	store := newTestListStore(t, Config{})

	results, err := store.Retrieve(context.Background(), "anything", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	logs := store.Logs(0)
	require.Len(t, logs, 1)
	assert.Equal(t, types.OpRetrieve, logs[0].Operation)
	assert.Equal(t, 0, logs[0].ResultCount)
}

func TestListStore_TTLExpiry(t *testing.T) {
	store := newTestListStore(t, Config{
		Eviction: map[types.Namespace]Policy{types.NamespaceWorking: PolicyTTL},
	})
	ctx := context.Background()

	_, err := store.Write(ctx, types.NamespaceWorking, "scratch", "short lived note", types.SourceAgent, 0.8, 2)
	require.NoError(t, err)

	results, err := store.Retrieve(ctx, "note", 5, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	store.AdvanceTurn()
	store.AdvanceTurn()

	results, err = store.Retrieve(ctx, "note", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "expired entry must not be retrievable")

	removed, err := store.Evict(ctx, types.NamespaceWorking)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestListStore_CapacityEviction(t *testing.T) {
	store := newTestListStore(t, Config{
		MaxPerNamespace: map[types.Namespace]int{types.NamespaceEpisodic: 3},
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := store.Write(ctx, types.NamespaceEpisodic, "k", "v", types.SourceAgent, 0.9, 0)
		require.NoError(t, err)
		store.AdvanceTurn()
	}

	counts := store.Counts()
	assert.Equal(t, 3, counts[types.NamespaceEpisodic])

	// The three survivors are the three most recent writes.
	results, err := store.Retrieve(ctx, "", 10, []types.Namespace{types.NamespaceEpisodic})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, e := range results {
		assert.GreaterOrEqual(t, e.ID, int64(4))
	}
}

func TestListStore_LRUEviction(t *testing.T) {
	store := newTestListStore(t, Config{
		MaxPerNamespace: map[types.Namespace]int{types.NamespaceToolTraces: 2},
		Eviction:        map[types.Namespace]Policy{types.NamespaceToolTraces: PolicyLRU},
	})
	ctx := context.Background()

	id1, err := store.Write(ctx, types.NamespaceToolTraces, "calc", "calculator pattern", types.SourceAgent, 0.9, 0)
	require.NoError(t, err)
	_, err = store.Write(ctx, types.NamespaceToolTraces, "search", "web search pattern", types.SourceAgent, 0.9, 0)
	require.NoError(t, err)

	// Touch the first entry so the second becomes least recently used.
	results, err := store.Retrieve(ctx, "calculator", 1, []types.Namespace{types.NamespaceToolTraces})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id1, results[0].ID)

	_, err = store.Write(ctx, types.NamespaceToolTraces, "files", "file read pattern", types.SourceAgent, 0.9, 0)
	require.NoError(t, err)

	results, err = store.Retrieve(ctx, "", 10, []types.Namespace{types.NamespaceToolTraces})
	require.NoError(t, err)
	require.Len(t, results, 2)
	keys := []string{results[0].Key, results[1].Key}
	assert.Contains(t, keys, "calc")
	assert.Contains(t, keys, "files")
	assert.NotContains(t, keys, "search")
}

func TestListStore_LogsLastN(t *testing.T) {
	store := newTestListStore(t, Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.Write(ctx, types.NamespaceSemantic, "k", "v", types.SourceUser, 1.0, 0)
		require.NoError(t, err)
	}

	assert.Len(t, store.Logs(0), 4)
	assert.Len(t, store.Logs(2), 2)
	assert.Len(t, store.Logs(100), 4)
}

func TestListStore_TrustScoreNeverMutatedByRetrieval(t *testing.T) {
	store := newTestListStore(t, Config{})
	ctx := context.Background()

	_, err := store.Write(ctx, types.NamespaceSemantic, "fact", "low trust fact", types.SourceInjected, 0.2, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		results, err := store.Retrieve(ctx, "fact", 5, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 0.2, results[0].TrustScore)
	}
}

func TestListStore_TraceEvents(t *testing.T) {
	trace := types.NewTraceLog("ep-trace")
	store, err := NewListStore(Config{}, trace, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Write(ctx, types.NamespaceSemantic, "fact", "value", types.SourceUser, 1.0, 0)
	require.NoError(t, err)
	_, err = store.Retrieve(ctx, "fact", 5, nil)
	require.NoError(t, err)

	events := trace.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventMemoryWrite, events[0].EventType)
	assert.Equal(t, types.EventMemoryRead, events[1].EventType)
	assert.Equal(t, 1, events[1].Details["result_count"])
}
