// internal/storage/storage.go
package storage

import "context"

// Backend is the interface all local cache implementations must satisfy.
// It is a small key/value store; values are opaque JSON documents.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Get returns the value stored under key. found is false when the key
	// has never been written or was deleted.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
