/*
Package cache implements the similarity response cache.

A lookup embeds the request prompt, searches a VectorIndex for stored
entries of the same scope (feature, system prompt, response format) whose
cosine similarity reaches the threshold, and serves the best live match:
highest score first, newest entry on a tie. Entries live in an EntryStore
keyed by request identity; Set overwrites.

Every failure inside the cache (embedding, index, store) degrades to a
miss on Get and to a logged no-op on Set.

Backends:

  - MemoryIndex: exact cosine scan
  - MilvusIndex: HNSW approximate search
  - MemoryStore: process-local entries
  - RedisStore: JSON entries with a native expiry
*/
package cache
