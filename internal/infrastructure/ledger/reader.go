package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader is the call-side view of the gateway used by the application
// services. Every call re-resolves its handle so a reconnect in between
// never leaves the caller holding a dead binding.
type Reader struct {
	gateway *Gateway
}

// NewReader creates a reader over gateway.
func NewReader(gateway *Gateway) *Reader {
	return &Reader{gateway: gateway}
}

func (r *Reader) registry() (*Registry, error) {
	handle, ok := r.gateway.Handle(HandleRegistry)
	if !ok {
		return nil, fmt.Errorf("registry handle unavailable")
	}
	return NewRegistry(handle), nil
}

func (r *Reader) marketplace() (*Marketplace, error) {
	handle, ok := r.gateway.Handle(HandleMarketplace)
	if !ok {
		return nil, fmt.Errorf("marketplace handle unavailable")
	}
	return NewMarketplace(handle), nil
}

// SeriesCount reports the registry's series count.
func (r *Reader) SeriesCount(ctx context.Context) (uint64, error) {
	reg, err := r.registry()
	if err != nil {
		return 0, err
	}
	return reg.SeriesCount(ctx)
}

// SeriesAt fetches one registry entry.
func (r *Reader) SeriesAt(ctx context.Context, seriesID uint64) (SeriesRecord, error) {
	reg, err := r.registry()
	if err != nil {
		return SeriesRecord{}, err
	}
	return reg.SeriesAt(ctx, seriesID)
}

// ListingCount reports the marketplace's listing count.
func (r *Reader) ListingCount(ctx context.Context) (uint64, error) {
	mkt, err := r.marketplace()
	if err != nil {
		return 0, err
	}
	return mkt.ListingCount(ctx)
}

// ListingAt fetches one marketplace listing slot.
func (r *Reader) ListingAt(ctx context.Context, listingID uint64) (ListingRecord, error) {
	mkt, err := r.marketplace()
	if err != nil {
		return ListingRecord{}, err
	}
	return mkt.ListingAt(ctx, listingID)
}

// BalanceOf reads one holder's balance on a series token contract, binding
// the token handle on first contact.
func (r *Reader) BalanceOf(ctx context.Context, token common.Address, holder common.Address, seriesID uint64) (*big.Int, error) {
	handle, ok := r.gateway.Handle(TokenHandleName(token))
	if !ok {
		bound, err := r.gateway.BindToken(token)
		if err != nil {
			return nil, err
		}
		handle = bound
	}
	return NewSeriesToken(handle).BalanceOf(ctx, holder, seriesID)
}
