// Package storage defines the key/value persistence port used by the queue
// and history stores, with in-memory and Postgres-backed implementations.
// Injecting the port keeps orchestration logic independent of the backing
// store.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no value exists for a key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a minimal durable key/value port. Values are opaque byte slices;
// callers own serialization. Set overwrites whole values (last writer wins).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
