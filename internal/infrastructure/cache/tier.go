package cache

import (
	"context"
	"time"
)

// Entity is implemented by every cached domain type. Inactive entities are
// treated as absent by all read paths, regardless of which tier answered.
type Entity interface {
	Active() bool
}

// EphemeralTier is a TTL-bound key-value tier. Entries expire on their own;
// a miss here is normal and falls through to the durable tier.
type EphemeralTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key under the given prefix. Used by the
	// reconciler to flush whole keyspaces.
	DeletePrefix(ctx context.Context, prefix string) error
}

// DurableBackend is the perpetual-until-invalidated tier for one entity type.
// Implementations upsert by the entity's natural key so concurrent writers
// converge instead of duplicating.
type DurableBackend[T Entity] interface {
	Fetch(ctx context.Context, key Key) (T, bool, error)
	Upsert(ctx context.Context, key Key, value T) error
	Delete(ctx context.Context, key Key) error
}

// ColdFetch reads an entity straight from the ledger, bypassing both tiers.
// A (zero, false, nil) return means the entity legitimately does not exist;
// errors mean the ledger could not answer and must not be cached.
type ColdFetch[T Entity] func(ctx context.Context, key Key) (T, bool, error)
