package domain

import (
	"context"
	"time"
)

// EntryStore is the narrow persistence interface the core consumes. The core
// never knows whether the backing store is a directory server, a document
// store or a relational table. CasPut is the single primitive carrying the
// exactly-once semantics for code and ticket consumption: it writes only if
// the key is absent and reports whether the write won.
type EntryStore interface {
	// Get returns the value for key, or ErrEntryNotFound on a miss or an
	// expired entry (the two are indistinguishable)
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key with the given TTL; zero TTL means no expiry
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error

	// CasPut stores value under key only if the key is absent, returning
	// true when this call performed the write. Two concurrent CasPuts for
	// the same key yield exactly one true.
	CasPut(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
