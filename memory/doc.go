/*
Package memory implements the namespaced, append-only memory store with
per-entry trust scores, provenance, eviction, and deterministic retrieval
ranking.

Two in-memory backends conform to the same Store contract:

  - ListStore: the conservative baseline. The candidate pool for retrieval
    is every non-expired entry in the allowed namespaces.
  - KVStore: latest-write-wins semantics. Entries sharing a (namespace, key)
    pair are collapsed to the newest one before ranking; superseded entries
    are never deleted and stay visible to the operation log.

A third backend, RedisStore, keeps the same latest-write-wins contract over
a redis instance for runs where memory must outlive the process.

All time is logical: the store owns a turn counter advanced by the episode
driver, entry ids increase strictly in write order, and ranking combines
lexical overlap with recency so that identical call sequences produce
identical results.
*/
package memory
