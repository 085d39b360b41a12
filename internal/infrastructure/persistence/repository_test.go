package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
	"github.com/chainmirror/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func testAsset(seriesID uint64) market.Asset {
	return market.Asset{
		Contract:     "0xabc",
		SeriesID:     seriesID,
		Name:         "Series",
		Symbol:       "SRS",
		TokenAddress: "0xf00",
		TotalSupply:  "1000000",
		MaxSupply:    "2000000",
		IsActive:     true,
	}
}

func TestGormAssetRepository_UpsertIsIdempotent(t *testing.T) {
	repo := NewGormAssetRepository(newTestDB(t))
	ctx := context.Background()
	key := cache.NewKey("0xabc", "3")
	asset := testAsset(3)

	require.NoError(t, repo.Upsert(ctx, key, asset))
	require.NoError(t, repo.Upsert(ctx, key, asset))

	assets, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
	assert.Equal(t, "1000000", assets[0].TotalSupply)
}

func TestGormAssetRepository_UpsertUpdatesExistingRow(t *testing.T) {
	repo := NewGormAssetRepository(newTestDB(t))
	ctx := context.Background()
	key := cache.NewKey("0xabc", "3")

	require.NoError(t, repo.Upsert(ctx, key, testAsset(3)))

	updated := testAsset(3)
	updated.TotalSupply = "1000001"
	require.NoError(t, repo.Upsert(ctx, key, updated))

	got, ok, err := repo.Fetch(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1000001", got.TotalSupply)
}

func TestGormAssetRepository_FetchAbsent(t *testing.T) {
	repo := NewGormAssetRepository(newTestDB(t))

	_, ok, err := repo.Fetch(context.Background(), cache.NewKey("0xabc", "99"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormAssetRepository_FetchRejectsMalformedKey(t *testing.T) {
	repo := NewGormAssetRepository(newTestDB(t))

	_, _, err := repo.Fetch(context.Background(), cache.NewKey("0xabc", "not-a-number"))
	require.Error(t, err)
}

func TestGormAssetRepository_Delete(t *testing.T) {
	repo := NewGormAssetRepository(newTestDB(t))
	ctx := context.Background()
	key := cache.NewKey("0xabc", "3")

	require.NoError(t, repo.Upsert(ctx, key, testAsset(3)))
	require.NoError(t, repo.Delete(ctx, key))

	_, ok, err := repo.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op, not an error.
	require.NoError(t, repo.Delete(ctx, key))
}

func TestGormAssetRepository_ListActiveFiltersInactive(t *testing.T) {
	repo := NewGormAssetRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, cache.NewKey("0xabc", "1"), testAsset(1)))

	retired := testAsset(2)
	retired.IsActive = false
	require.NoError(t, repo.Upsert(ctx, cache.NewKey("0xabc", "2"), retired))

	assets, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.EqualValues(t, 1, assets[0].SeriesID)
}

func TestGormAssetRepository_FindByTokenAddress(t *testing.T) {
	repo := NewGormAssetRepository(newTestDB(t))
	ctx := context.Background()

	asset := testAsset(3)
	asset.TokenAddress = "0xbeef"
	require.NoError(t, repo.Upsert(ctx, cache.NewKey("0xabc", "3"), asset))

	got, ok, err := repo.FindByTokenAddress(ctx, "0xbeef")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 3, got.SeriesID)

	// Inactive assets never match, even on the right address.
	asset.IsActive = false
	require.NoError(t, repo.Upsert(ctx, cache.NewKey("0xabc", "3"), asset))
	_, ok, err = repo.FindByTokenAddress(ctx, "0xbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testListing(id uint64) market.Listing {
	return market.Listing{
		ListingID:    id,
		Seller:       "0x5e11e4",
		Contract:     "0xabc",
		SeriesID:     3,
		Quantity:     "5",
		UnitPriceWei: "1500000000000000000",
		IsActive:     true,
	}
}

func TestGormListingRepository_UpsertAndFetch(t *testing.T) {
	repo := NewGormListingRepository(newTestDB(t))
	ctx := context.Background()
	key := cache.NewKey("42")

	require.NoError(t, repo.Upsert(ctx, key, testListing(42)))
	require.NoError(t, repo.Upsert(ctx, key, testListing(42)))

	got, ok, err := repo.Fetch(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1500000000000000000", got.UnitPriceWei)

	listings, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, listings, 1)
}

func TestGormListingRepository_DeleteRemovesRow(t *testing.T) {
	repo := NewGormListingRepository(newTestDB(t))
	ctx := context.Background()
	key := cache.NewKey("42")

	require.NoError(t, repo.Upsert(ctx, key, testListing(42)))
	require.NoError(t, repo.Delete(ctx, key))

	_, ok, err := repo.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormOwnershipRepository_FetchAggregatesHolder(t *testing.T) {
	repo := NewGormOwnershipRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 1, Quantity: "5",
	}))
	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 2, Quantity: "7",
	}))
	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh02", Contract: "0xabc", SeriesID: 1, Quantity: "1",
	}))

	balances, ok, err := repo.Fetch(ctx, cache.NewKey("0xh01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, balances.Balances, 2)
	assert.Equal(t, "0xh01", balances.Holder)
}

func TestGormOwnershipRepository_FetchAbsentHolder(t *testing.T) {
	repo := NewGormOwnershipRepository(newTestDB(t))

	_, ok, err := repo.Fetch(context.Background(), cache.NewKey("0xnobody"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormOwnershipRepository_FetchSkipsZeroQuantities(t *testing.T) {
	repo := NewGormOwnershipRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 1, Quantity: "0",
	}))
	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 2, Quantity: "3",
	}))

	balances, ok, err := repo.Fetch(ctx, cache.NewKey("0xh01"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, balances.Balances, 1)
	assert.EqualValues(t, 2, balances.Balances[0].SeriesID)
}

func TestGormOwnershipRepository_UpsertEntryConverges(t *testing.T) {
	repo := NewGormOwnershipRepository(newTestDB(t))
	ctx := context.Background()

	entry := market.OwnershipEntry{Holder: "0xh01", Contract: "0xabc", SeriesID: 1, Quantity: "5"}
	require.NoError(t, repo.UpsertEntry(ctx, entry))

	entry.Quantity = "9"
	require.NoError(t, repo.UpsertEntry(ctx, entry))

	balances, _, err := repo.Fetch(ctx, cache.NewKey("0xh01"))
	require.NoError(t, err)
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, "9", balances.Balances[0].Quantity)
}

func TestGormOwnershipRepository_UpsertReplacesStaleRows(t *testing.T) {
	repo := NewGormOwnershipRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 1, Quantity: "5",
	}))
	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 2, Quantity: "7",
	}))

	// Holder sold out of series 1; the new aggregate only has series 2.
	require.NoError(t, repo.Upsert(ctx, cache.NewKey("0xh01"), market.HolderBalances{
		Holder: "0xh01",
		Balances: []market.OwnershipEntry{
			{Holder: "0xh01", Contract: "0xabc", SeriesID: 2, Quantity: "8"},
		},
	}))

	balances, ok, err := repo.Fetch(ctx, cache.NewKey("0xh01"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, balances.Balances, 1)
	assert.EqualValues(t, 2, balances.Balances[0].SeriesID)
	assert.Equal(t, "8", balances.Balances[0].Quantity)
}

func TestGormOwnershipRepository_DeleteBySeries(t *testing.T) {
	repo := NewGormOwnershipRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 1, Quantity: "5",
	}))
	require.NoError(t, repo.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh02", Contract: "0xabc", SeriesID: 1, Quantity: "2",
	}))

	require.NoError(t, repo.DeleteBySeries(ctx, "0xabc", 1))

	_, ok, err := repo.Fetch(ctx, cache.NewKey("0xh01"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconciliationDeleteOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	assets := NewGormAssetRepository(db)
	ownership := NewGormOwnershipRepository(db)

	require.NoError(t, assets.Upsert(ctx, cache.NewKey("0xabc", "1"), testAsset(1)))
	require.NoError(t, ownership.UpsertEntry(ctx, market.OwnershipEntry{
		Holder: "0xh01", Contract: "0xabc", SeriesID: 1, Quantity: "5",
	}))

	// Dependents first, then referents.
	require.NoError(t, ownership.DeleteAll(ctx))
	require.NoError(t, assets.DeleteAll(ctx))

	remaining, err := assets.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
