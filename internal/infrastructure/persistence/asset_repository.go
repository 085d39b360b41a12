package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
	"github.com/chainmirror/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAssetRepository is the durable tier for assets. It implements
// cache.DurableBackend[market.Asset] keyed by (contract, seriesID).
type GormAssetRepository struct {
	db *gorm.DB
}

// NewGormAssetRepository creates a new GormAssetRepository
func NewGormAssetRepository(db *gorm.DB) *GormAssetRepository {
	return &GormAssetRepository{db: db}
}

// assetKey splits a composite cache key into its contract and series parts.
func assetKey(key cache.Key) (string, uint64, error) {
	seriesID, err := strconv.ParseUint(key.Secondary, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid series id in key %q: %w", key.String(), err)
	}
	return key.Primary, seriesID, nil
}

// Fetch retrieves one asset row by its composite key
func (r *GormAssetRepository) Fetch(ctx context.Context, key cache.Key) (market.Asset, bool, error) {
	contract, seriesID, err := assetKey(key)
	if err != nil {
		return market.Asset{}, false, err
	}

	var model models.AssetModel
	result := r.db.WithContext(ctx).
		Where("contract = ? AND series_id = ?", contract, seriesID).
		First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return market.Asset{}, false, nil
	}
	if result.Error != nil {
		return market.Asset{}, false, result.Error
	}
	return model.ToDomain(), true, nil
}

// Upsert inserts or updates the asset row for key. Concurrent writers racing
// on the same key converge on the last write.
func (r *GormAssetRepository) Upsert(ctx context.Context, key cache.Key, asset market.Asset) error {
	model := models.AssetModelFromDomain(asset)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "contract"}, {Name: "series_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "symbol", "token_address", "creator", "metadata_uri",
				"metadata", "total_supply", "max_supply", "is_active", "updated_at",
			}),
		}).
		Create(model).Error
}

// Delete removes the asset row for key. Missing rows are not an error.
func (r *GormAssetRepository) Delete(ctx context.Context, key cache.Key) error {
	contract, seriesID, err := assetKey(key)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("contract = ? AND series_id = ?", contract, seriesID).
		Delete(&models.AssetModel{}).Error
}

// ListActive returns all active assets ordered by series id
func (r *GormAssetRepository) ListActive(ctx context.Context) ([]market.Asset, error) {
	var rows []models.AssetModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("contract, series_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	assets := make([]market.Asset, 0, len(rows))
	for i := range rows {
		assets = append(assets, rows[i].ToDomain())
	}
	return assets, nil
}

// FindByTokenAddress resolves the cache-side reverse index from a series
// token contract address to its asset row. Inactive assets are not returned.
func (r *GormAssetRepository) FindByTokenAddress(ctx context.Context, tokenAddress string) (market.Asset, bool, error) {
	var model models.AssetModel
	result := r.db.WithContext(ctx).
		Where("token_address = ? AND is_active = ?", tokenAddress, true).
		First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return market.Asset{}, false, nil
	}
	if result.Error != nil {
		return market.Asset{}, false, result.Error
	}
	return model.ToDomain(), true, nil
}

// DeleteAll clears every asset row. Reconciliation only; ownership rows must
// already be gone.
func (r *GormAssetRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.AssetModel{}).Error
}

var _ cache.DurableBackend[market.Asset] = (*GormAssetRepository)(nil)
