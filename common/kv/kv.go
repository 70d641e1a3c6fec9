package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is a small persisted key/value store used for framework state that
// must survive restarts: in-flight transfer guards, the file/node mapping
// cache, the device identifier and the persisted usage context.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetNX sets the key only if it does not exist yet and reports whether
	// it was set. It is the atomic check-and-set the transfer guards rely on.
	SetNX(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, key string) error
	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
