package rollout

import "github.com/cespare/xxhash/v2"

// InRollout reports whether identifier falls inside the staged-rollout
// percentage. The bucket is a stable hash of the identifier, so the same
// device always lands in the same bucket and its visibility never
// flickers as long as the percentage only grows.
func InRollout(identifier string, percentage int) bool {
	if percentage <= 0 {
		return false
	}
	if percentage >= 100 {
		return true
	}
	return Bucket(identifier) < uint64(percentage)
}

// Bucket maps identifier to [0,100).
func Bucket(identifier string) uint64 {
	return xxhash.Sum64String(identifier) % 100
}
