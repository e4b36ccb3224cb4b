// Package cache contains the storage providers used by the header-replay cache.
// A provider stores serialized HTTP responses under string keys and keeps track
// of their expiration times.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no live entry exists for the key.
var ErrNotFound = errors.New("cache: entry not found")

// Provider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses.
// Operating on key prefixes is needed so all stored variants (see Vary) of
// a request can be found.
//
// Implementations must be thread-safe!
type Provider interface {
	// All returns all live cache entries that have the specific key prefix.
	All(ctx context.Context, prefix string) ([]Entry, error)
	// Get returns the entry for the given key.
	// It returns ErrNotFound if the entry is missing or has expired.
	Get(ctx context.Context, key string) (Entry, error)
	// Put stores the entry, replacing any entry with the same key.
	Put(ctx context.Context, entry Entry) error
	// Purge removes the cache entry for the given key.
	// Purging a missing key is not an error.
	Purge(ctx context.Context, key string) error
}

// Entry is a stored response.
type Entry struct {
	Key         string
	Expires     time.Time
	RequestedAt time.Time
	ReceivedAt  time.Time
	Bytes       []byte
}

// Expired reports whether the entry may no longer be served at time now.
func (e Entry) Expired(now time.Time) bool {
	return !e.Expires.After(now)
}
