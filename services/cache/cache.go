package cache

import "time"

// CacheService defines the contract for short-lived shared state, used by the
// fetch layer to remember that a source has rate limited us and must not be
// contacted again until the block expires.
type CacheService interface {
	// Get retrieves a value by key; returns an error on miss
	Get(key string) ([]byte, error)

	// Set stores a value with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value
	Delete(key string) error
}
