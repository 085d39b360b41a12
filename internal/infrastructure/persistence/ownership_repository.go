package persistence

import (
	"context"
	"strconv"
	"time"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
	"github.com/chainmirror/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOwnershipRepository is the durable tier for holder balances. As a
// cache.DurableBackend it is keyed by holder address and serves the
// aggregated per-holder view; individual rows are upserted by
// (holder, contract, series_id).
type GormOwnershipRepository struct {
	db *gorm.DB
}

// NewGormOwnershipRepository creates a new GormOwnershipRepository
func NewGormOwnershipRepository(db *gorm.DB) *GormOwnershipRepository {
	return &GormOwnershipRepository{db: db}
}

// Fetch returns the aggregated balances for the holder in key.Primary.
// A holder with no rows is reported absent so the read path falls through
// to the cold aggregation.
func (r *GormOwnershipRepository) Fetch(ctx context.Context, key cache.Key) (market.HolderBalances, bool, error) {
	var rows []models.OwnershipModel
	if err := r.db.WithContext(ctx).
		Where("holder = ?", key.Primary).
		Order("contract, series_id").
		Find(&rows).Error; err != nil {
		return market.HolderBalances{}, false, err
	}
	if len(rows) == 0 {
		return market.HolderBalances{}, false, nil
	}

	balances := market.HolderBalances{Holder: key.Primary}
	for i := range rows {
		entry := rows[i].ToDomain()
		if !entry.Active() {
			continue
		}
		balances.Balances = append(balances.Balances, entry)
		if entry.UpdatedAt.After(balances.UpdatedAt) {
			balances.UpdatedAt = entry.UpdatedAt
		}
	}
	return balances, true, nil
}

// Upsert replaces the holder's rows with the given aggregate: each entry is
// upserted, then rows for series no longer held are removed.
func (r *GormOwnershipRepository) Upsert(ctx context.Context, key cache.Key, balances market.HolderBalances) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := make(map[string]bool, len(balances.Balances))
		for _, entry := range balances.Balances {
			if err := upsertOwnershipRow(tx, entry); err != nil {
				return err
			}
			seen[ownershipRowKey(entry.Contract, entry.SeriesID)] = true
		}

		var existing []models.OwnershipModel
		if err := tx.Where("holder = ?", key.Primary).Find(&existing).Error; err != nil {
			return err
		}
		for i := range existing {
			if !seen[ownershipRowKey(existing[i].Contract, existing[i].SeriesID)] {
				if err := tx.Delete(&existing[i]).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Delete removes every row for the holder in key.Primary
func (r *GormOwnershipRepository) Delete(ctx context.Context, key cache.Key) error {
	return r.db.WithContext(ctx).
		Where("holder = ?", key.Primary).
		Delete(&models.OwnershipModel{}).Error
}

// UpsertEntry inserts or updates a single holder/series row. Used by the
// transfer invalidation handler, which touches one series at a time.
func (r *GormOwnershipRepository) UpsertEntry(ctx context.Context, entry market.OwnershipEntry) error {
	return upsertOwnershipRow(r.db.WithContext(ctx), entry)
}

// DeleteEntry removes a single holder/series row
func (r *GormOwnershipRepository) DeleteEntry(ctx context.Context, holder, contract string, seriesID uint64) error {
	return r.db.WithContext(ctx).
		Where("holder = ? AND contract = ? AND series_id = ?", holder, contract, seriesID).
		Delete(&models.OwnershipModel{}).Error
}

// DeleteBySeries removes every holder's rows for one series. Used when the
// series itself is retired.
func (r *GormOwnershipRepository) DeleteBySeries(ctx context.Context, contract string, seriesID uint64) error {
	return r.db.WithContext(ctx).
		Where("contract = ? AND series_id = ?", contract, seriesID).
		Delete(&models.OwnershipModel{}).Error
}

// DeleteAll clears every ownership row. Runs first during reconciliation:
// ownership references assets, so dependents go before referents.
func (r *GormOwnershipRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.OwnershipModel{}).Error
}

func upsertOwnershipRow(db *gorm.DB, entry market.OwnershipEntry) error {
	model := models.OwnershipModelFromDomain(entry)
	model.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "holder"}, {Name: "contract"}, {Name: "series_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(model).Error
}

func ownershipRowKey(contract string, seriesID uint64) string {
	return cache.NewKey(contract, strconv.FormatUint(seriesID, 10)).String()
}

var _ cache.DurableBackend[market.HolderBalances] = (*GormOwnershipRepository)(nil)
