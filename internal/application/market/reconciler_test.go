package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/shared"
	"github.com/chainmirror/backend/internal/infrastructure/config"
)

func newReconciler(f *marketFixture) *Reconciler {
	return NewReconciler(config.ReconcileConfig{Concurrency: 4}, f.assets, f.listings, f.balances, zap.NewNop())
}

func TestReconciler_RebuildReplacesStaleState(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setSeries(activeSeries(1, "Stale", tokenAddrA))
	f.ledger.setListing(openListing(1, 1, 50))
	f.ledger.setBalance(tokenAddrA, holderAddr, 1, 10)

	ctx := context.Background()
	_, err := f.assets.Get(ctx, 1)
	require.NoError(t, err)
	_, err = f.listings.Get(ctx, 1)
	require.NoError(t, err)
	_, err = f.balances.GetBalances(ctx, holderAddr.Hex())
	require.NoError(t, err)
	require.Equal(t, 1, f.ownerRepo.count())

	// the mirror missed some events: a rename, a closed listing, a new series
	f.ledger.setSeries(activeSeries(1, "Fresh", tokenAddrA))
	f.ledger.setSeries(activeSeries(2, "New", tokenAddrB))
	f.ledger.dropListing(1)

	rec := newReconciler(f)
	require.NoError(t, rec.Rebuild(ctx))

	asset, err := f.assets.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", asset.Name)

	asset, err = f.assets.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "New", asset.Name)

	_, err = f.listings.Get(ctx, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// balances were cleared and rebuild lazily
	assert.Equal(t, 0, f.ownerRepo.count())
	balances, err := f.balances.GetBalances(ctx, holderAddr.Hex())
	require.NoError(t, err)
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, "10", balances.Balances[0].Quantity)
}

func TestReconciler_SingleFlight(t *testing.T) {
	f := newMarketFixture()
	rec := newReconciler(f)

	require.True(t, rec.running.CompareAndSwap(false, true))
	defer rec.running.Store(false)

	err := rec.Rebuild(context.Background())
	assert.ErrorIs(t, err, shared.ErrRebuildInProgress)
	assert.True(t, rec.Running())
}

func TestReconciler_RebuildConcurrentWithReads(t *testing.T) {
	f := newMarketFixture()
	for id := uint64(1); id <= 10; id++ {
		f.ledger.setSeries(activeSeries(id, fmt.Sprintf("Series%d", id), tokenAddrA))
	}

	ctx := context.Background()
	_, err := f.assets.Get(ctx, 1)
	require.NoError(t, err)

	// Slow record lookups keep the rebuild in flight long enough to race
	// reads and a second trigger against it.
	f.ledger.setLatency(5 * time.Millisecond)
	rec := newReconciler(f)

	rebuildDone := make(chan error, 1)
	go func() { rebuildDone <- rec.Rebuild(ctx) }()
	require.Eventually(t, rec.Running, 2*time.Second, time.Millisecond)

	assert.ErrorIs(t, rec.Rebuild(ctx), shared.ErrRebuildInProgress)

	var wg sync.WaitGroup
	readErrs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				asset, err := f.assets.Get(ctx, 1)
				if err != nil {
					readErrs <- err
					return
				}
				if !asset.IsActive {
					readErrs <- errors.New("inactive series served during rebuild")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(readErrs)
	for err := range readErrs {
		require.NoError(t, err)
	}

	require.NoError(t, <-rebuildDone)
	assert.False(t, rec.Running())
	assert.Equal(t, 10, f.assetRepo.count())
}

func TestReconciler_ReportsOutcome(t *testing.T) {
	f := newMarketFixture()
	rec := newReconciler(f)

	assert.Nil(t, rec.LastReport())
	require.NoError(t, rec.Rebuild(context.Background()))

	report := rec.LastReport()
	require.NotNil(t, report)
	assert.Empty(t, report.Err)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestReconciler_RebuildFailureReported(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setDown(true)
	rec := newReconciler(f)

	err := rec.Rebuild(context.Background())
	require.Error(t, err)

	report := rec.LastReport()
	require.NotNil(t, report)
	assert.NotEmpty(t, report.Err)
	assert.False(t, rec.Running())
}

func TestReconciler_StartupRebuildRuns(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setSeries(activeSeries(1, "One", tokenAddrA))

	rec := NewReconciler(config.ReconcileConfig{RunOnStartup: true}, f.assets, f.listings, f.balances, zap.NewNop())
	rec.Start(context.Background())

	var done bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if done = rec.LastReport() != nil; done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, done, "startup rebuild did not finish")
	assert.Equal(t, 1, f.assetRepo.count())
}
