package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TieredStore chains the ephemeral tier, the durable tier and a cold fetch
// into one read path:
//
//	ephemeral hit            -> return
//	durable hit              -> best-effort ephemeral repopulation, return
//	cold fetch success       -> write both tiers, return
//	cold fetch absent/error  -> absent; negative results are never cached
//
// A failure in one tier is logged and skipped, never surfaced; only
// exhaustion of every tier plus the cold fetch yields an absence. All durable
// writes are upserts by natural key, so duplicate concurrent cold fetches for
// the same key converge instead of conflicting.
type TieredStore[T Entity] struct {
	name      string
	ephemeral EphemeralTier
	durable   DurableBackend[T]
	cold      ColdFetch[T]
	ttl       time.Duration
	logger    *zap.Logger

	syncRepopulate bool
	wg             sync.WaitGroup

	ephemeralHits   atomic.Int64
	ephemeralMisses atomic.Int64
	durableHits     atomic.Int64
	durableMisses   atomic.Int64
	coldFetches     atomic.Int64
}

// TieredStoreOption is a functional option for configuring the store
type TieredStoreOption[T Entity] func(*TieredStore[T])

// WithLogger sets the logger for the store
func WithLogger[T Entity](logger *zap.Logger) TieredStoreOption[T] {
	return func(s *TieredStore[T]) {
		s.logger = logger
	}
}

// WithSynchronousRepopulate makes the ephemeral repopulation on a durable
// hit run inline instead of in a goroutine. Used by tests.
func WithSynchronousRepopulate[T Entity]() TieredStoreOption[T] {
	return func(s *TieredStore[T]) {
		s.syncRepopulate = true
	}
}

// NewTieredStore creates a store named name (the name doubles as the
// ephemeral keyspace prefix) over the given tiers and cold fetch.
func NewTieredStore[T Entity](
	name string,
	ephemeral EphemeralTier,
	durable DurableBackend[T],
	cold ColdFetch[T],
	ttl time.Duration,
	opts ...TieredStoreOption[T],
) *TieredStore[T] {
	s := &TieredStore[T]{
		name:      name,
		ephemeral: ephemeral,
		durable:   durable,
		cold:      cold,
		ttl:       ttl,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get resolves key through the tier chain. Inactive entities are absent no
// matter which tier holds them.
func (s *TieredStore[T]) Get(ctx context.Context, key Key) (T, bool, error) {
	var zero T

	if raw, ok, err := s.ephemeral.Get(ctx, s.entryKey(key)); err != nil {
		s.logger.Warn("ephemeral tier read failed",
			zap.String("store", s.name),
			zap.String("key", key.String()),
			zap.Error(err))
	} else if ok {
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			s.logger.Warn("ephemeral tier entry corrupt, dropping",
				zap.String("store", s.name),
				zap.String("key", key.String()),
				zap.Error(err))
			_ = s.ephemeral.Delete(ctx, s.entryKey(key))
		} else {
			s.ephemeralHits.Add(1)
			if !value.Active() {
				return zero, false, nil
			}
			return value, true, nil
		}
	}
	s.ephemeralMisses.Add(1)

	value, ok, err := s.durable.Fetch(ctx, key)
	if err != nil {
		s.logger.Warn("durable tier read failed",
			zap.String("store", s.name),
			zap.String("key", key.String()),
			zap.Error(err))
	} else if ok {
		s.durableHits.Add(1)
		s.repopulateEphemeral(key, value)
		if !value.Active() {
			return zero, false, nil
		}
		return value, true, nil
	}
	s.durableMisses.Add(1)

	value, ok, err = s.coldFetch(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	if !value.Active() {
		return zero, false, nil
	}
	return value, true, nil
}

// coldFetch queries the ledger and, on success, writes the result through
// both tiers. Failures and absences are never cached.
func (s *TieredStore[T]) coldFetch(ctx context.Context, key Key) (T, bool, error) {
	var zero T
	if s.cold == nil {
		return zero, false, nil
	}

	s.coldFetches.Add(1)
	value, ok, err := s.cold(ctx, key)
	if err != nil {
		s.logger.Warn("cold fetch failed",
			zap.String("store", s.name),
			zap.String("key", key.String()),
			zap.Error(err))
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}

	if err := s.Put(ctx, key, value); err != nil {
		s.logger.Warn("post-fetch population failed",
			zap.String("store", s.name),
			zap.String("key", key.String()),
			zap.Error(err))
	}
	return value, true, nil
}

// Put writes value to both tiers: durable without TTL (upsert by key),
// ephemeral with the store's default TTL. A single-tier failure is logged
// and does not abort the other write.
func (s *TieredStore[T]) Put(ctx context.Context, key Key, value T) error {
	var lastErr error

	if s.durable != nil {
		if err := s.durable.Upsert(ctx, key, value); err != nil {
			s.logger.Warn("durable tier write failed",
				zap.String("store", s.name),
				zap.String("key", key.String()),
				zap.Error(err))
			lastErr = err
		}
	}

	if raw, err := json.Marshal(value); err != nil {
		lastErr = err
	} else if err := s.ephemeral.Set(ctx, s.entryKey(key), raw, s.ttl); err != nil {
		s.logger.Warn("ephemeral tier write failed",
			zap.String("store", s.name),
			zap.String("key", key.String()),
			zap.Error(err))
		lastErr = err
	}

	return lastErr
}

// Invalidate removes key from both tiers. The next Get for the key goes all
// the way to the cold fetch.
func (s *TieredStore[T]) Invalidate(ctx context.Context, key Key) error {
	var lastErr error

	if err := s.ephemeral.Delete(ctx, s.entryKey(key)); err != nil {
		s.logger.Warn("ephemeral tier delete failed",
			zap.String("store", s.name),
			zap.String("key", key.String()),
			zap.Error(err))
		lastErr = err
	}

	if s.durable != nil {
		if err := s.durable.Delete(ctx, key); err != nil {
			s.logger.Warn("durable tier delete failed",
				zap.String("store", s.name),
				zap.String("key", key.String()),
				zap.Error(err))
			lastErr = err
		}
	}

	return lastErr
}

// DropEphemeral removes key from the ephemeral tier only. Used when the
// durable entry was just rewritten in place and only the short-lived copy is
// stale.
func (s *TieredStore[T]) DropEphemeral(ctx context.Context, key Key) error {
	return s.ephemeral.Delete(ctx, s.entryKey(key))
}

// FlushEphemeral drops the store's whole ephemeral keyspace. Durable entries
// are untouched; subsequent reads repopulate from the durable tier.
func (s *TieredStore[T]) FlushEphemeral(ctx context.Context) error {
	return s.ephemeral.DeletePrefix(ctx, s.name+":")
}

// repopulateEphemeral refreshes the ephemeral entry after a durable hit.
// Fire and forget: the caller's result does not depend on it.
func (s *TieredStore[T]) repopulateEphemeral(key Key, value T) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}

	write := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.ephemeral.Set(ctx, s.entryKey(key), raw, s.ttl); err != nil {
			s.logger.Warn("ephemeral repopulation failed",
				zap.String("store", s.name),
				zap.String("key", key.String()),
				zap.Error(err))
		}
	}

	if s.syncRepopulate {
		write()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		write()
	}()
}

// Close waits for outstanding background repopulations to finish.
func (s *TieredStore[T]) Close() {
	s.wg.Wait()
}

// entryKey builds the ephemeral keyspace key for an entity key.
func (s *TieredStore[T]) entryKey(key Key) string {
	return s.name + ":" + key.String()
}

// Stats is a snapshot of the store's tier counters.
type Stats struct {
	Name            string `json:"name"`
	EphemeralHits   int64  `json:"ephemeral_hits"`
	EphemeralMisses int64  `json:"ephemeral_misses"`
	DurableHits     int64  `json:"durable_hits"`
	DurableMisses   int64  `json:"durable_misses"`
	ColdFetches     int64  `json:"cold_fetches"`
}

// Stats returns the store's current counters.
func (s *TieredStore[T]) Stats() Stats {
	return Stats{
		Name:            s.name,
		EphemeralHits:   s.ephemeralHits.Load(),
		EphemeralMisses: s.ephemeralMisses.Load(),
		DurableHits:     s.durableHits.Load(),
		DurableMisses:   s.durableMisses.Load(),
		ColdFetches:     s.coldFetches.Load(),
	}
}
