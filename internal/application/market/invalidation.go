package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/shared"
	"github.com/chainmirror/backend/internal/infrastructure/ledger"
)

// Invalidator maps ledger events onto cache mutations. Handlers are
// idempotent: every mutation rewrites state keyed by ids carried in the
// event, so redelivery converges to the same cache contents.
type Invalidator struct {
	assets   *AssetService
	listings *ListingService
	balances *BalanceService
	gateway  *ledger.Gateway
	manager  *ledger.SubscriptionManager
	logger   *zap.Logger
}

// NewInvalidator creates the event-to-invalidation bridge.
func NewInvalidator(
	assets *AssetService,
	listings *ListingService,
	balances *BalanceService,
	gateway *ledger.Gateway,
	logger *zap.Logger,
) *Invalidator {
	return &Invalidator{
		assets:   assets,
		listings: listings,
		balances: balances,
		gateway:  gateway,
		logger:   logger.Named("invalidation"),
	}
}

// Bind registers every invalidation handler on the manager, including one
// transfer stream per token handle already bound on the gateway. Call
// before manager.Start.
func (i *Invalidator) Bind(manager *ledger.SubscriptionManager) {
	i.manager = manager

	manager.Register(ledger.HandleRegistry, ledger.EventSeriesCreated, i.onSeriesCreated)
	manager.Register(ledger.HandleRegistry, ledger.EventSeriesUpdated, i.onSeriesChanged)
	manager.Register(ledger.HandleRegistry, ledger.EventSeriesRetired, i.onSeriesChanged)

	manager.Register(ledger.HandleMarketplace, ledger.EventListingCreated, i.onListingCreated)
	manager.Register(ledger.HandleMarketplace, ledger.EventListingSold, i.onListingClosed)
	manager.Register(ledger.HandleMarketplace, ledger.EventListingCancelled, i.onListingClosed)

	for _, name := range i.gateway.HandleNames() {
		if name != ledger.HandleRegistry && name != ledger.HandleMarketplace {
			manager.Register(name, ledger.EventTransferSingle, i.onTransfer)
		}
	}
}

// onSeriesCreated warms the new series and attaches a transfer stream to
// its token contract so its balances stay live from the start.
func (i *Invalidator) onSeriesCreated(ctx context.Context, event ledger.Event) error {
	seriesID, ok := event.Uint64Arg("seriesId")
	if !ok {
		return fmt.Errorf("%s missing seriesId", event.Name)
	}

	asset, err := i.assets.Refresh(ctx, seriesID)
	if err != nil {
		return err
	}

	token := common.HexToAddress(asset.TokenAddress)
	if token == (common.Address{}) {
		return nil
	}
	if _, err := i.gateway.BindToken(token); err != nil {
		return err
	}
	if i.manager != nil {
		i.manager.AttachStream(ledger.TokenHandleName(token), ledger.EventTransferSingle, i.onTransfer)
	}
	return nil
}

func (i *Invalidator) onSeriesChanged(ctx context.Context, event ledger.Event) error {
	seriesID, ok := event.Uint64Arg("seriesId")
	if !ok {
		return fmt.Errorf("%s missing seriesId", event.Name)
	}

	// A retired series refetches as inactive and stays absent to readers;
	// NotFound here is the expected outcome, not a failure. Its ownership
	// rows go with it so durable balance aggregates stop naming it.
	if _, err := i.assets.Refresh(ctx, seriesID); err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		return i.balances.PurgeSeries(ctx, seriesID)
	}
	return nil
}

func (i *Invalidator) onListingCreated(ctx context.Context, event ledger.Event) error {
	listingID, ok := event.Uint64Arg("listingId")
	if !ok {
		return fmt.Errorf("%s missing listingId", event.Name)
	}
	return i.listings.Refresh(ctx, listingID)
}

func (i *Invalidator) onListingClosed(ctx context.Context, event ledger.Event) error {
	listingID, ok := event.Uint64Arg("listingId")
	if !ok {
		return fmt.Errorf("%s missing listingId", event.Name)
	}
	return i.listings.Delete(ctx, listingID)
}

// onTransfer re-reads both affected holdings from the token contract. The
// zero address marks mints and burns and holds no balance of its own.
func (i *Invalidator) onTransfer(ctx context.Context, event ledger.Event) error {
	seriesID, ok := event.Uint64Arg("id")
	if !ok {
		return fmt.Errorf("%s missing id", event.Name)
	}

	var errs []error
	for _, arg := range []string{"from", "to"} {
		holder, ok := event.AddressArg(arg)
		if !ok || holder == (common.Address{}) {
			continue
		}
		if err := i.balances.RefreshHolding(ctx, holder.Hex(), event.Address, seriesID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		i.logger.Warn("transfer invalidation incomplete",
			zap.Uint64("series_id", seriesID),
			zap.String("token", event.Address.Hex()),
			zap.Errors("errors", errs))
	}
	return errors.Join(errs...)
}
