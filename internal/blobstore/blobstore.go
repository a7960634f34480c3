// Package blobstore provides the durable object store gateway: key-addressed
// blob storage used as the system of record for file content and serialized
// document state.
package blobstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is the object store abstraction. Keys are slash-separated logical
// paths; values are opaque byte blobs. Implementations must make Put atomic
// per key and List return every key under a prefix.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
}
