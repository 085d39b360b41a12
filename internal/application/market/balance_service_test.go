package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmirror/backend/internal/domain/shared"
)

func TestBalanceService_AggregatesAcrossSeries(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setSeries(activeSeries(1, "One", tokenAddrA))
	f.ledger.setSeries(activeSeries(2, "Two", tokenAddrB))
	f.ledger.setBalance(tokenAddrA, holderAddr, 1, 25)
	f.ledger.setBalance(tokenAddrB, holderAddr, 2, 0) // zero holdings dropped

	balances, err := f.balances.GetBalances(context.Background(), holderAddr.Hex())
	require.NoError(t, err)

	assert.Equal(t, holderAddr.Hex(), balances.Holder)
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, uint64(1), balances.Balances[0].SeriesID)
	assert.Equal(t, "25", balances.Balances[0].Quantity)
	assert.Equal(t, registryAddr.Hex(), balances.Balances[0].Contract)

	// warm read skips the ledger
	calls := f.ledger.balanceCalls
	_, err = f.balances.GetBalances(context.Background(), holderAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, calls, f.ledger.balanceCalls)
}

func TestBalanceService_EmptyAggregateIsValid(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setSeries(activeSeries(1, "One", tokenAddrA))

	balances, err := f.balances.GetBalances(context.Background(), holderAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, holderAddr.Hex(), balances.Holder)
	assert.Empty(t, balances.Balances)
}

func TestBalanceService_PartialAggregationNeverCached(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setSeries(activeSeries(1, "One", tokenAddrA))

	// warm the asset set so only the balance calls can fail
	_, err := f.assets.ListActive(context.Background())
	require.NoError(t, err)

	f.ledger.setDown(true)
	_, err = f.balances.GetBalances(context.Background(), holderAddr.Hex())
	assert.ErrorIs(t, err, shared.ErrLedgerUnavailable)
	assert.Equal(t, 0, f.ownerRepo.count())
}

func TestBalanceService_InvalidAddressRejected(t *testing.T) {
	f := newMarketFixture()
	_, err := f.balances.GetBalances(context.Background(), "zzz")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestBalanceService_RefreshHoldingRewritesRow(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setSeries(activeSeries(1, "One", tokenAddrA))
	f.ledger.setBalance(tokenAddrA, holderAddr, 1, 10)

	// build the warm aggregate
	balances, err := f.balances.GetBalances(context.Background(), holderAddr.Hex())
	require.NoError(t, err)
	require.Len(t, balances.Balances, 1)

	// a transfer moved 10 more in
	f.ledger.setBalance(tokenAddrA, holderAddr, 1, 20)
	require.NoError(t, f.balances.RefreshHolding(context.Background(), holderAddr.Hex(), tokenAddrA, 1))

	balances, err = f.balances.GetBalances(context.Background(), holderAddr.Hex())
	require.NoError(t, err)
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, "20", balances.Balances[0].Quantity)
}

func TestBalanceService_RefreshHoldingRemovesEmptiedRow(t *testing.T) {
	f := newMarketFixture()
	f.ledger.setSeries(activeSeries(1, "One", tokenAddrA))
	f.ledger.setBalance(tokenAddrA, holderAddr, 1, 10)

	_, err := f.balances.GetBalances(context.Background(), holderAddr.Hex())
	require.NoError(t, err)
	require.Equal(t, 1, f.ownerRepo.count())

	// everything transferred out
	f.ledger.setBalance(tokenAddrA, holderAddr, 1, 0)
	require.NoError(t, f.balances.RefreshHolding(context.Background(), holderAddr.Hex(), tokenAddrA, 1))
	assert.Equal(t, 0, f.ownerRepo.count())

	balances, err := f.balances.GetBalances(context.Background(), holderAddr.Hex())
	require.NoError(t, err)
	assert.Empty(t, balances.Balances)
}
