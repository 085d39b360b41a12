// Package models holds the GORM persistence models for the durable cache
// tier. Rows here are a warm mirror of ledger state: perpetual until
// explicitly invalidated, never time-boxed.
package models

import (
	"encoding/json"
	"time"

	"github.com/chainmirror/backend/internal/domain/market"
)

// AssetModel persists one token series view. Unique on (contract, series_id).
type AssetModel struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	Contract     string    `gorm:"type:varchar(42);not null;uniqueIndex:uq_assets_contract_series,priority:1"`
	SeriesID     uint64    `gorm:"not null;uniqueIndex:uq_assets_contract_series,priority:2"`
	Name         string    `gorm:"type:varchar(200);not null"`
	Symbol       string    `gorm:"type:varchar(32)"`
	TokenAddress string    `gorm:"type:varchar(42);index"`
	Creator      string    `gorm:"type:varchar(42)"`
	MetadataURI  string    `gorm:"type:text"`
	Metadata     string    `gorm:"type:jsonb;default:'{}'"`
	TotalSupply  string    `gorm:"type:numeric(78,0);not null;default:0"`
	MaxSupply    string    `gorm:"type:numeric(78,0);not null;default:0"`
	IsActive     bool      `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AssetModel) TableName() string {
	return "assets"
}

// ToDomain converts the persistence model to a domain Asset
func (m *AssetModel) ToDomain() market.Asset {
	a := market.Asset{
		Contract:     m.Contract,
		SeriesID:     m.SeriesID,
		Name:         m.Name,
		Symbol:       m.Symbol,
		TokenAddress: m.TokenAddress,
		Creator:      m.Creator,
		MetadataURI:  m.MetadataURI,
		TotalSupply:  m.TotalSupply,
		MaxSupply:    m.MaxSupply,
		IsActive:     m.IsActive,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Metadata != "" && m.Metadata != "{}" {
		a.Metadata = json.RawMessage(m.Metadata)
	}
	return a
}

// AssetModelFromDomain builds a persistence model from a domain Asset
func AssetModelFromDomain(a market.Asset) *AssetModel {
	metadata := "{}"
	if len(a.Metadata) > 0 {
		metadata = string(a.Metadata)
	}
	return &AssetModel{
		Contract:     a.Contract,
		SeriesID:     a.SeriesID,
		Name:         a.Name,
		Symbol:       a.Symbol,
		TokenAddress: a.TokenAddress,
		Creator:      a.Creator,
		MetadataURI:  a.MetadataURI,
		Metadata:     metadata,
		TotalSupply:  a.TotalSupply,
		MaxSupply:    a.MaxSupply,
		IsActive:     a.IsActive,
	}
}

// ListingModel persists one marketplace listing snapshot. Unique on
// listing_id, the ledger-assigned sequence number.
type ListingModel struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	ListingID    uint64    `gorm:"not null;uniqueIndex"`
	Seller       string    `gorm:"type:varchar(42);not null;index"`
	Contract     string    `gorm:"type:varchar(42);not null"`
	SeriesID     uint64    `gorm:"not null"`
	Quantity     string    `gorm:"type:numeric(78,0);not null;default:0"`
	UnitPriceWei string    `gorm:"type:numeric(78,0);not null;default:0"`
	IsActive     bool      `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ListingModel) TableName() string {
	return "listings"
}

// ToDomain converts the persistence model to a domain Listing
func (m *ListingModel) ToDomain() market.Listing {
	return market.Listing{
		ListingID:    m.ListingID,
		Seller:       m.Seller,
		Contract:     m.Contract,
		SeriesID:     m.SeriesID,
		Quantity:     m.Quantity,
		UnitPriceWei: m.UnitPriceWei,
		IsActive:     m.IsActive,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ListingModelFromDomain builds a persistence model from a domain Listing
func ListingModelFromDomain(l market.Listing) *ListingModel {
	return &ListingModel{
		ListingID:    l.ListingID,
		Seller:       l.Seller,
		Contract:     l.Contract,
		SeriesID:     l.SeriesID,
		Quantity:     l.Quantity,
		UnitPriceWei: l.UnitPriceWei,
		IsActive:     l.IsActive,
	}
}

// OwnershipModel persists one holder/series balance row. Unique on
// (holder, contract, series_id); rows churn on every transfer event, so all
// writes are upserts. References assets(contract, series_id) logically;
// cleared before assets during reconciliation.
type OwnershipModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Holder    string    `gorm:"type:varchar(42);not null;uniqueIndex:uq_ownership_holder_series,priority:1;index"`
	Contract  string    `gorm:"type:varchar(42);not null;uniqueIndex:uq_ownership_holder_series,priority:2"`
	SeriesID  uint64    `gorm:"not null;uniqueIndex:uq_ownership_holder_series,priority:3"`
	Quantity  string    `gorm:"type:numeric(78,0);not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OwnershipModel) TableName() string {
	return "ownership_entries"
}

// ToDomain converts the persistence model to a domain OwnershipEntry
func (m *OwnershipModel) ToDomain() market.OwnershipEntry {
	return market.OwnershipEntry{
		Holder:    m.Holder,
		Contract:  m.Contract,
		SeriesID:  m.SeriesID,
		Quantity:  m.Quantity,
		UpdatedAt: m.UpdatedAt,
	}
}

// OwnershipModelFromDomain builds a persistence model from a domain entry
func OwnershipModelFromDomain(o market.OwnershipEntry) *OwnershipModel {
	return &OwnershipModel{
		Holder:   o.Holder,
		Contract: o.Contract,
		SeriesID: o.SeriesID,
		Quantity: o.Quantity,
	}
}

// All returns every model for migration registration
func All() []any {
	return []any{
		&AssetModel{},
		&ListingModel{},
		&OwnershipModel{},
	}
}
