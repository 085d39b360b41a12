// Package market contains the application services that serve mirrored
// ledger state: token series, marketplace listings and holder balances.
// Every read goes through a tiered cache; the ledger itself is only touched
// when both tiers miss.
package market

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainmirror/backend/internal/infrastructure/ledger"
)

// LedgerReader is the slice of the ledger gateway the services read from.
// Implemented by ledger.Reader; faked in tests.
type LedgerReader interface {
	SeriesCount(ctx context.Context) (uint64, error)
	SeriesAt(ctx context.Context, seriesID uint64) (ledger.SeriesRecord, error)
	ListingCount(ctx context.Context) (uint64, error)
	ListingAt(ctx context.Context, listingID uint64) (ledger.ListingRecord, error)
	BalanceOf(ctx context.Context, token common.Address, holder common.Address, seriesID uint64) (*big.Int, error)
}

// MetadataResolver resolves a series metadata URI to a JSON document.
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) json.RawMessage
}

// normalizeAddress canonicalizes a hex address to its checksummed form so
// composite keys compare byte for byte.
func normalizeAddress(s string) string {
	return common.HexToAddress(s).Hex()
}
