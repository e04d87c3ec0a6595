// Package cache stores translated results keyed by a request fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a key is absent or expired
var ErrNotFound = errors.New("cache entry not found")

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Store is a key/value result cache. A zero ttl on Set keeps the entry until
// it is deleted.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Prune drops expired entries and reports how many were removed
	Prune(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// fingerprintLength is the number of hex characters kept from the digest
const fingerprintLength = 32

// Fingerprint derives a stable cache and dedup key from request parts
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		fmt.Fprintf(h, "%d:%s|", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLength]
}

// Open builds a store for the named backend. location is the database file
// for sqlite and the server URL for redis.
func Open(backend, location string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if location == "" {
			location = DefaultDatabasePath()
		}
		return NewSQLiteStore(location)
	case BackendRedis:
		return OpenRedis(location)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
