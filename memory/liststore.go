package memory

import (
	"go.uber.org/zap"

	"github.com/memlens/memlens/types"
)

// ListStore is the baseline backend: the retrieval candidate pool is every
// non-expired entry in the allowed namespaces, with no key collapsing.
// Multiple writes to the same (namespace, key) all stay retrievable.
type ListStore struct {
	*core
}

// NewListStore creates a list-backed store. A misconfigured eviction table
// is a fatal construction error, never a call-time one. The trace log may
// be nil when the store runs outside an episode.
func NewListStore(cfg Config, trace *types.TraceLog, logger *zap.Logger) (*ListStore, error) {
	c, err := newCore(cfg, false, trace, componentLogger(logger, "memory_store_list"))
	if err != nil {
		return nil, err
	}
	return &ListStore{core: c}, nil
}

// KVStore models production key-value semantics: a later write to the same
// (namespace, key) supersedes earlier ones for retrieval, even though the
// store itself never deletes the superseded entries.
type KVStore struct {
	*core
}

// NewKVStore creates a latest-write-wins store.
func NewKVStore(cfg Config, trace *types.TraceLog, logger *zap.Logger) (*KVStore, error) {
	c, err := newCore(cfg, true, trace, componentLogger(logger, "memory_store_kv"))
	if err != nil {
		return nil, err
	}
	return &KVStore{core: c}, nil
}

func componentLogger(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("component", component))
}
