// Package util contains internal helpers (hashing, sharding, padding).
package util

// FNV-1a over a byte string. Spec.md §9 requires only "any stable hash
// with uniform distribution"; FNV-1a is used because it is allocation-free
// for the short key strings this cache typically sees. Unlike the
// generic, multi-type hasher this was adapted from, keys here are always
// byte strings, so the type switch is gone.
const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// FNV64a hashes a byte string key for shard selection.
func FNV64a(b []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}
