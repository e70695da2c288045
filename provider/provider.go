// Package provider defines the byte store used by the kv table backend.
//
// Implementations must be byte-for-byte transparent: Get returns exactly the
// []byte previously passed to Set for the same key.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrRejected is returned by Set when the store refused the write under
// memory pressure.
var ErrRejected = errors.New("provider: write rejected")

// Provider is a minimal byte store with prefix scans.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ttl <= 0 means no expiry; stores without per-entry
	// TTLs ignore it.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Scan calls fn for every key starting with prefix. Iteration stops at
	// the first error fn returns. Keys written during a scan may or may not
	// be visited.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	Close(ctx context.Context) error
}
