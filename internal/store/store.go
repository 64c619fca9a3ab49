// Package store is the persistence port of the engine: a byte-oriented
// key/value namespace with explicit error variants, so every call site can
// pick its own recovery policy.
package store

import "errors"

var (
	// ErrNotFound reports a key that has never been written.
	ErrNotFound = errors.New("store: not found")
	// ErrQuotaExceeded reports a write refused for space; callers may shrink
	// and retry.
	ErrQuotaExceeded = errors.New("store: quota exceeded")
	// ErrCorrupt reports a value that could not be read back intact.
	ErrCorrupt = errors.New("store: corrupt value")
)

// KV is the minimal contract the engine persists through.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}
