// Package market holds the domain model for mirrored ledger state:
// token series (assets), marketplace listings, and holder balances.
package market

import (
	"encoding/json"
	"math/big"
	"time"
)

// Asset is the cached view of one token series registered on the ledger.
// Identified by (Contract, SeriesID) where Contract is the registry address
// and SeriesID the registry-assigned sequence number.
type Asset struct {
	Contract     string          `json:"contract"`
	SeriesID     uint64          `json:"series_id"`
	Name         string          `json:"name"`
	Symbol       string          `json:"symbol"`
	TokenAddress string          `json:"token_address"`
	Creator      string          `json:"creator"`
	MetadataURI  string          `json:"metadata_uri"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	TotalSupply  string          `json:"total_supply"`
	MaxSupply    string          `json:"max_supply"`
	IsActive     bool            `json:"is_active"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Active reports whether the asset may be served to callers.
func (a Asset) Active() bool {
	return a.IsActive
}

// ParseQuantity parses a base-10 quantity string into a big.Int.
// Quantities are kept as strings end to end; floating point is never used.
func ParseQuantity(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	n, ok := new(big.Int).SetString(s, 10)
	return n, ok
}

// IsPositiveQuantity reports whether s parses to a quantity greater than zero.
func IsPositiveQuantity(s string) bool {
	n, ok := ParseQuantity(s)
	return ok && n.Sign() > 0
}
