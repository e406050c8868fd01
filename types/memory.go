package types

// Source identifies who produced a memory entry. Entries from SourceInjected
// are untrusted by definition and subject to write-time filtering.
type Source string

const (
	SourceUser     Source = "user"
	SourceAgent    Source = "agent"
	SourceSystem   Source = "system"
	SourceInjected Source = "injected"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceUser, SourceAgent, SourceSystem, SourceInjected:
		return true
	}
	return false
}

// MemoryEntry is a single stored fact. Entries are immutable once written:
// ID is globally unique and strictly increasing in write order, CreatedAt is
// the store's logical clock at write time, and TrustScore is fixed at write
// time and never mutated by retrieval.
type MemoryEntry struct {
	ID         int64     `json:"id"`
	Namespace  Namespace `json:"namespace"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Source     Source    `json:"source"`
	TrustScore float64   `json:"trust_score"`
	CreatedAt  int64     `json:"created_at"`
	// TTL in logical-turn units. Zero means no expiry.
	TTL int64 `json:"ttl,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at logical time now.
func (e MemoryEntry) Expired(now int64) bool {
	return e.TTL > 0 && e.CreatedAt+e.TTL <= now
}

// Operation names a memory store operation kind for the operation log.
type Operation string

const (
	OpWrite    Operation = "write"
	OpRetrieve Operation = "retrieve"
	OpEvict    Operation = "evict"
)

// OperationLogEntry records one store mutation or retrieval. The log is
// append-only; its ordering is the ground truth for failure attribution.
type OperationLogEntry struct {
	Operation   Operation `json:"operation"`
	EntryKey    string    `json:"entry_key"`
	Namespace   Namespace `json:"namespace"`
	Timestamp   int64     `json:"timestamp"`
	ResultCount int       `json:"result_count,omitempty"`
}
