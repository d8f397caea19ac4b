package kv

import (
	"context"
	"errors"
)

var (
	// ErrStoreFull marks quota-class write failures. Callers may evict and
	// retry once; anything beyond that is best-effort.
	ErrStoreFull = errors.New("kv store full")
)

// Store is the local persistence collaborator for the agenda engine. It holds
// cached listings and user view preferences; keys are enumerable by prefix so
// the cache can run its bounded eviction pass.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}
