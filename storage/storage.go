// Package storage defines the key/value contract shared by the
// single-shard LRU (package lru) and the striped cache (package striped).
package storage

// Storage is the interface commands execute against. Keys and values are
// opaque byte strings; an implementation never interprets their contents.
//
// Put, PutIfAbsent and Set report admission/replacement outcomes as a
// boolean and never raise an error: a rejection (oversized entry, absent
// key on Set, present key on PutIfAbsent) is a normal, expected result,
// not a failure.
type Storage interface {
	// Put inserts key→value, replacing any existing value for key and
	// promoting the entry to most-recently-used. Returns false, leaving
	// the store unchanged, if len(key)+len(value) exceeds the capacity
	// budget.
	Put(key, value []byte) bool

	// PutIfAbsent inserts key→value only if key is not already present.
	// Returns false without modifying the store if key exists or the
	// entry does not fit.
	PutIfAbsent(key, value []byte) bool

	// Set replaces the value for an existing key and promotes it to
	// most-recently-used. Returns false if key is absent or the new
	// value does not fit.
	Set(key, value []byte) bool

	// Delete removes key if present, freeing its bytes. Returns false if
	// key was absent.
	Delete(key []byte) bool

	// Get returns the value for key and promotes the entry to
	// most-recently-used on a hit.
	Get(key []byte) (value []byte, ok bool)
}
