package market

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/domain/shared"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
)

// ListingRepository is the durable tier for listings plus the bulk
// operations the list path and the reconciler need.
type ListingRepository interface {
	cache.DurableBackend[market.Listing]
	ListActive(ctx context.Context) ([]market.Listing, error)
	DeleteAll(ctx context.Context) error
}

// ListingServiceConfig tunes the listing cache behaviour.
type ListingServiceConfig struct {
	// Contract is the marketplace address recorded on cached listings.
	Contract string
	// TTL is the ephemeral lifetime of a single listing entry.
	TTL time.Duration
	// ListTTL is the ephemeral lifetime of the assembled open-listing list.
	ListTTL time.Duration
	// FetchConcurrency bounds parallel cold fetches during list assembly.
	FetchConcurrency int
}

// ListingService serves marketplace listings through the tier chain.
// Closed listings are deleted rather than updated: the marketplace zeroes
// the slot on close, so there is nothing left to mirror.
type ListingService struct {
	cfg      ListingServiceConfig
	ledger   LedgerReader
	repo     ListingRepository
	store    *cache.TieredStore[market.Listing]
	listTier cache.EphemeralTier
	logger   *zap.Logger
}

const listingListKey = "listing-list:open"

// NewListingService wires the listing tier chain.
func NewListingService(
	cfg ListingServiceConfig,
	reader LedgerReader,
	repo ListingRepository,
	ephemeral cache.EphemeralTier,
	logger *zap.Logger,
	opts ...cache.TieredStoreOption[market.Listing],
) *ListingService {
	cfg.Contract = normalizeAddress(cfg.Contract)
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	s := &ListingService{
		cfg:      cfg,
		ledger:   reader,
		repo:     repo,
		listTier: ephemeral,
		logger:   logger.Named("listings"),
	}
	opts = append([]cache.TieredStoreOption[market.Listing]{cache.WithLogger[market.Listing](logger)}, opts...)
	s.store = cache.NewTieredStore[market.Listing]("listing", ephemeral, repo, s.coldFetch, cfg.TTL, opts...)
	return s
}

func (s *ListingService) key(listingID uint64) cache.Key {
	return cache.NewKey(strconv.FormatUint(listingID, 10))
}

// Get returns one open listing, from the fastest tier that has it.
func (s *ListingService) Get(ctx context.Context, listingID uint64) (market.Listing, error) {
	listing, ok, err := s.store.Get(ctx, s.key(listingID))
	if err != nil {
		return market.Listing{}, shared.ErrLedgerUnavailable
	}
	if !ok {
		return market.Listing{}, shared.ErrNotFound
	}
	return listing, nil
}

// coldFetch reads one listing slot from the marketplace. A zeroed slot
// (seller cleared on close) is an absence; there is no record to mirror.
func (s *ListingService) coldFetch(ctx context.Context, key cache.Key) (market.Listing, bool, error) {
	listingID, err := strconv.ParseUint(key.Primary, 10, 64)
	if err != nil {
		return market.Listing{}, false, nil
	}

	record, err := s.ledger.ListingAt(ctx, listingID)
	if err != nil {
		return market.Listing{}, false, err
	}
	if record.Seller == (common.Address{}) {
		return market.Listing{}, false, nil
	}

	return market.Listing{
		ListingID:    listingID,
		Seller:       record.Seller.Hex(),
		Contract:     s.cfg.Contract,
		SeriesID:     record.SeriesID,
		Quantity:     record.Quantity.String(),
		UnitPriceWei: record.UnitPrice.String(),
		IsActive:     record.Active,
		UpdatedAt:    time.Now().UTC(),
	}, true, nil
}

// ListOpen returns every open listing, rebuilt through the per-entry tier
// chain on a list-cache miss.
func (s *ListingService) ListOpen(ctx context.Context) ([]market.Listing, error) {
	if raw, ok, err := s.listTier.Get(ctx, listingListKey); err == nil && ok {
		var listings []market.Listing
		if json.Unmarshal(raw, &listings) == nil {
			return listings, nil
		}
		_ = s.listTier.Delete(ctx, listingListKey)
	}

	count, err := s.ledger.ListingCount(ctx)
	if err != nil {
		s.logger.Warn("list assembly falling back to durable tier", zap.Error(err))
		listings, repoErr := s.repo.ListActive(ctx)
		if repoErr != nil {
			return nil, shared.ErrLedgerUnavailable
		}
		return listings, nil
	}

	listings, err := s.collectOpen(ctx, count)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(listings); err == nil {
		if err := s.listTier.Set(ctx, listingListKey, raw, s.cfg.ListTTL); err != nil {
			s.logger.Warn("list cache write failed", zap.Error(err))
		}
	}
	return listings, nil
}

func (s *ListingService) collectOpen(ctx context.Context, count uint64) ([]market.Listing, error) {
	var mu sync.Mutex
	listings := make([]market.Listing, 0, count)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for listingID := uint64(1); listingID <= count; listingID++ {
		g.Go(func() error {
			listing, ok, err := s.store.Get(ctx, s.key(listingID))
			if err != nil {
				s.logger.Warn("list assembly dropping listing",
					zap.Uint64("listing_id", listingID),
					zap.Error(err))
				return nil
			}
			if !ok {
				return nil
			}
			mu.Lock()
			listings = append(listings, listing)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(listings, func(i, j int) bool { return listings[i].ListingID < listings[j].ListingID })
	return listings, nil
}

// Delete removes a closed listing from both tiers and discards the cached
// list.
func (s *ListingService) Delete(ctx context.Context, listingID uint64) error {
	if err := s.store.Invalidate(ctx, s.key(listingID)); err != nil {
		return err
	}
	return s.listTier.Delete(ctx, listingListKey)
}

// Refresh re-fetches one listing from the ledger, warming both tiers. A
// listing that turns out closed stays deleted.
func (s *ListingService) Refresh(ctx context.Context, listingID uint64) error {
	if err := s.Delete(ctx, listingID); err != nil {
		return err
	}
	_, _, err := s.store.Get(ctx, s.key(listingID))
	return err
}

// Purge empties both tiers. Reconciler only.
func (s *ListingService) Purge(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.store.FlushEphemeral(ctx); err != nil {
		return err
	}
	return s.listTier.Delete(ctx, listingListKey)
}

// Warm rebuilds every open listing entry from the ledger.
func (s *ListingService) Warm(ctx context.Context) error {
	count, err := s.ledger.ListingCount(ctx)
	if err != nil {
		return err
	}
	_, err = s.collectOpen(ctx, count)
	return err
}

// Stats exposes tier hit counters for the admin surface.
func (s *ListingService) Stats() cache.Stats {
	return s.store.Stats()
}

// Close releases background cache workers.
func (s *ListingService) Close() {
	s.store.Close()
}
