package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntity struct {
	Value    string `json:"value"`
	IsActive bool   `json:"is_active"`
}

func (e testEntity) Active() bool { return e.IsActive }

// fakeDurable is a map-backed DurableBackend for tests.
type fakeDurable struct {
	mu      sync.Mutex
	entries map[Key]testEntity
	upserts int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: make(map[Key]testEntity)}
}

func (d *fakeDurable) Fetch(ctx context.Context, key Key) (testEntity, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	return e, ok, nil
}

func (d *fakeDurable) Upsert(ctx context.Context, key Key, value testEntity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = value
	d.upserts++
	return nil
}

func (d *fakeDurable) Delete(ctx context.Context, key Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
	return nil
}

func (d *fakeDurable) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// erroringTier fails every operation, simulating an unreachable Redis.
type erroringTier struct{}

var errTierDown = errors.New("tier unreachable")

func (erroringTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errTierDown
}
func (erroringTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errTierDown
}
func (erroringTier) Delete(ctx context.Context, key string) error     { return errTierDown }
func (erroringTier) DeletePrefix(ctx context.Context, p string) error { return errTierDown }

func countingCold(value testEntity, present bool, err error) (ColdFetch[testEntity], *atomic.Int64) {
	var calls atomic.Int64
	return func(ctx context.Context, key Key) (testEntity, bool, error) {
		calls.Add(1)
		return value, present, err
	}, &calls
}

func newTestStore(ephemeral EphemeralTier, durable DurableBackend[testEntity], cold ColdFetch[testEntity]) *TieredStore[testEntity] {
	return NewTieredStore("test", ephemeral, durable, cold, time.Minute,
		WithSynchronousRepopulate[testEntity]())
}

func TestTieredStore_ReadThroughPopulation(t *testing.T) {
	ctx := context.Background()
	ephemeral := NewMemoryTier()
	durable := newFakeDurable()
	cold, calls := countingCold(testEntity{Value: "v", IsActive: true}, true, nil)
	store := newTestStore(ephemeral, durable, cold)

	key := NewKey("0xABC", "3")

	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got.Value)
	assert.EqualValues(t, 1, calls.Load())

	// Value must now be present in both tiers.
	assert.Equal(t, 1, durable.count())
	_, hit, err := ephemeral.Get(ctx, "test:"+key.String())
	require.NoError(t, err)
	assert.True(t, hit)

	// Second get is served from cache, no new cold fetch.
	got, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got.Value)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTieredStore_InvalidationForcesRefetch(t *testing.T) {
	ctx := context.Background()
	cold, calls := countingCold(testEntity{Value: "v", IsActive: true}, true, nil)
	store := newTestStore(NewMemoryTier(), newFakeDurable(), cold)

	key := NewKey("0xABC", "3")

	_, _, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, store.Invalidate(ctx, key))

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, calls.Load())
}

func TestTieredStore_InactiveNeverServed(t *testing.T) {
	ctx := context.Background()
	ephemeral := NewMemoryTier()
	durable := newFakeDurable()
	store := newTestStore(ephemeral, durable, nil)

	key := NewKey("0xABC", "9")

	// Physically present in both tiers, but inactive.
	require.NoError(t, store.Put(ctx, key, testEntity{Value: "retired", IsActive: false}))
	assert.Equal(t, 1, durable.count())

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Same with only the durable tier holding it.
	require.NoError(t, ephemeral.Delete(ctx, "test:"+key.String()))
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTieredStore_FallbackChainWithBrokenEphemeral(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	key := NewKey("0xABC", "3")
	require.NoError(t, durable.Upsert(ctx, key, testEntity{Value: "durable", IsActive: true}))

	store := newTestStore(erroringTier{}, durable, nil)

	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "durable", got.Value)
}

func TestTieredStore_DurableHitRefreshesEphemeral(t *testing.T) {
	ctx := context.Background()
	ephemeral := NewMemoryTier()
	durable := newFakeDurable()
	cold, calls := countingCold(testEntity{Value: `{"totalSupply":"1000000"}`, IsActive: true}, true, nil)
	store := newTestStore(ephemeral, durable, cold)

	key := NewKey("0xABC", "3")

	_, _, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	// Simulate TTL expiry: flush the ephemeral tier only.
	require.NoError(t, store.FlushEphemeral(ctx))
	assert.Equal(t, 0, ephemeral.Len())

	// The durable tier answers without a new cold fetch, and refreshes the
	// ephemeral tier as a side effect.
	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"totalSupply":"1000000"}`, got.Value)
	assert.EqualValues(t, 1, calls.Load())

	_, hit, err := ephemeral.Get(ctx, "test:"+key.String())
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestTieredStore_NegativeResultsNotCached(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()

	t.Run("absent entity", func(t *testing.T) {
		cold, calls := countingCold(testEntity{}, false, nil)
		store := newTestStore(NewMemoryTier(), durable, cold)

		key := NewKey("0xDEF", "1")
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, durable.count())

		// A later get asks the ledger again rather than a poisoned cache.
		_, _, _ = store.Get(ctx, key)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("transient ledger failure", func(t *testing.T) {
		cold, _ := countingCold(testEntity{}, false, errors.New("rpc timeout"))
		store := newTestStore(NewMemoryTier(), durable, cold)

		_, ok, err := store.Get(ctx, NewKey("0xDEF", "2"))
		require.Error(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, durable.count())
	})
}

func TestTieredStore_IdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	store := newTestStore(NewMemoryTier(), durable, nil)

	key := NewKey("0xABC", "3")
	value := testEntity{Value: "v", IsActive: true}

	require.NoError(t, store.Put(ctx, key, value))
	require.NoError(t, store.Put(ctx, key, value))

	assert.Equal(t, 1, durable.count())
	assert.Equal(t, 2, durable.upserts)
}

func TestTieredStore_Stats(t *testing.T) {
	ctx := context.Background()
	cold, _ := countingCold(testEntity{Value: "v", IsActive: true}, true, nil)
	store := newTestStore(NewMemoryTier(), newFakeDurable(), cold)

	key := NewKey("0xABC", "3")
	_, _, _ = store.Get(ctx, key) // full miss, cold fetch
	_, _, _ = store.Get(ctx, key) // ephemeral hit

	stats := store.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.EqualValues(t, 1, stats.EphemeralHits)
	assert.EqualValues(t, 1, stats.ColdFetches)
	assert.EqualValues(t, 1, stats.DurableMisses)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "0xABC/3", NewKey("0xABC", "3").String())
	assert.Equal(t, "42", NewKey("42").String())
}
