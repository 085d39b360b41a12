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

// GormListingRepository is the durable tier for marketplace listings,
// keyed by listing sequence number.
type GormListingRepository struct {
	db *gorm.DB
}

// NewGormListingRepository creates a new GormListingRepository
func NewGormListingRepository(db *gorm.DB) *GormListingRepository {
	return &GormListingRepository{db: db}
}

func listingKey(key cache.Key) (uint64, error) {
	id, err := strconv.ParseUint(key.Primary, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid listing id in key %q: %w", key.String(), err)
	}
	return id, nil
}

// Fetch retrieves one listing row by its sequence number
func (r *GormListingRepository) Fetch(ctx context.Context, key cache.Key) (market.Listing, bool, error) {
	listingID, err := listingKey(key)
	if err != nil {
		return market.Listing{}, false, err
	}

	var model models.ListingModel
	result := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return market.Listing{}, false, nil
	}
	if result.Error != nil {
		return market.Listing{}, false, result.Error
	}
	return model.ToDomain(), true, nil
}

// Upsert inserts or updates the listing row for key
func (r *GormListingRepository) Upsert(ctx context.Context, key cache.Key, listing market.Listing) error {
	model := models.ListingModelFromDomain(listing)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "listing_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"seller", "contract", "series_id", "quantity",
				"unit_price_wei", "is_active", "updated_at",
			}),
		}).
		Create(model).Error
}

// Delete removes the listing row for key. Closed listings are deleted rather
// than flagged: the ledger slot is zeroed and can no longer be trusted.
func (r *GormListingRepository) Delete(ctx context.Context, key cache.Key) error {
	listingID, err := listingKey(key)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Delete(&models.ListingModel{}).Error
}

// ListActive returns all active listings ordered by sequence number
func (r *GormListingRepository) ListActive(ctx context.Context) ([]market.Listing, error) {
	var rows []models.ListingModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("listing_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	listings := make([]market.Listing, 0, len(rows))
	for i := range rows {
		listings = append(listings, rows[i].ToDomain())
	}
	return listings, nil
}

// DeleteAll clears every listing row. Reconciliation only.
func (r *GormListingRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.ListingModel{}).Error
}

var _ cache.DurableBackend[market.Listing] = (*GormListingRepository)(nil)
