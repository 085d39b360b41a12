package market

import "time"

// OwnershipEntry joins a holder address to a token series with a quantity.
// Keyed by (Holder, Contract, SeriesID). Mutated on every transfer event, so
// writes are always upserts; concurrent writers for the same key converge.
type OwnershipEntry struct {
	Holder    string    `json:"holder"`
	Contract  string    `json:"contract"`
	SeriesID  uint64    `json:"series_id"`
	Quantity  string    `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the entry represents a live, positive holding.
func (o OwnershipEntry) Active() bool {
	return IsPositiveQuantity(o.Quantity)
}

// HolderBalances is the aggregated per-holder view served by the balance
// read path.
type HolderBalances struct {
	Holder    string           `json:"holder"`
	Balances  []OwnershipEntry `json:"balances"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Active always reports true: an aggregate with zero entries is still a
// valid (empty) answer for the holder.
func (h HolderBalances) Active() bool {
	return true
}
