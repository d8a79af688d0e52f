// Package identity resolves token subjects to account records.
//
// A [Cache] keeps recently used records in a small in-process LRU in front
// of Redis and reads through to a [Loader] on a miss. Concurrent misses for
// the same subject are collapsed into one storage read. Mutations call
// [Cache.Invalidate] before they touch storage; the Redis entry is deleted
// and a per-subject generation is bumped so that a read already in flight
// cannot write its stale result back.
//
// Cached payloads use a compact versioned binary layout (see [Encode]) and
// never contain the password hash.
package identity
