package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// weiPerToken is the scale between the ledger's integer price unit and the
// human-readable display unit.
var weiPerToken = decimal.New(1, 18)

// Listing is the cached snapshot of a fixed-price sale offer on the
// marketplace contract, keyed by the ledger-assigned listing sequence number.
//
// A closed listing (sold or cancelled) is deleted from the cache rather than
// updated: the marketplace contract zeroes the slot, so a later ledger read
// would return garbage for it.
type Listing struct {
	ListingID    uint64    `json:"listing_id"`
	Seller       string    `json:"seller"`
	Contract     string    `json:"contract"`
	SeriesID     uint64    `json:"series_id"`
	Quantity     string    `json:"quantity"`
	UnitPriceWei string    `json:"unit_price_wei"`
	IsActive     bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Active reports whether the listing may be served to callers.
func (l Listing) Active() bool {
	return l.IsActive
}

// DisplayPrice converts the wei unit price to its 18-decimal display form.
// Display conversion only; all arithmetic stays on the integer wei value.
func (l Listing) DisplayPrice() string {
	wei, err := decimal.NewFromString(l.UnitPriceWei)
	if err != nil {
		return "0"
	}
	return wei.DivRound(weiPerToken, 18).String()
}
