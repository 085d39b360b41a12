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

// AssetRepository is the durable tier for assets plus the bulk operations
// the list path and the reconciler need.
type AssetRepository interface {
	cache.DurableBackend[market.Asset]
	ListActive(ctx context.Context) ([]market.Asset, error)
	FindByTokenAddress(ctx context.Context, tokenAddress string) (market.Asset, bool, error)
	DeleteAll(ctx context.Context) error
}

// AssetServiceConfig tunes the asset cache behaviour.
type AssetServiceConfig struct {
	// Contract is the registry address, the primary half of every asset key.
	Contract string
	// TTL is the ephemeral lifetime of a single asset entry.
	TTL time.Duration
	// ListTTL is the ephemeral lifetime of the assembled active-asset list.
	ListTTL time.Duration
	// FetchConcurrency bounds parallel cold fetches during list assembly
	// and rebuilds.
	FetchConcurrency int
}

// AssetService serves token series through the tier chain. A series missing
// from both tiers is assembled from the registry entry plus its resolved
// metadata document in one cold fetch.
type AssetService struct {
	cfg      AssetServiceConfig
	ledger   LedgerReader
	resolver MetadataResolver
	repo     AssetRepository
	store    *cache.TieredStore[market.Asset]
	listTier cache.EphemeralTier
	logger   *zap.Logger
}

const assetListKey = "asset-list:active"

// NewAssetService wires the asset tier chain.
func NewAssetService(
	cfg AssetServiceConfig,
	reader LedgerReader,
	resolver MetadataResolver,
	repo AssetRepository,
	ephemeral cache.EphemeralTier,
	logger *zap.Logger,
	opts ...cache.TieredStoreOption[market.Asset],
) *AssetService {
	cfg.Contract = normalizeAddress(cfg.Contract)
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	s := &AssetService{
		cfg:      cfg,
		ledger:   reader,
		resolver: resolver,
		repo:     repo,
		listTier: ephemeral,
		logger:   logger.Named("assets"),
	}
	opts = append([]cache.TieredStoreOption[market.Asset]{cache.WithLogger[market.Asset](logger)}, opts...)
	s.store = cache.NewTieredStore[market.Asset]("asset", ephemeral, repo, s.coldFetch, cfg.TTL, opts...)
	return s
}

func (s *AssetService) key(seriesID uint64) cache.Key {
	return cache.NewKey(s.cfg.Contract, strconv.FormatUint(seriesID, 10))
}

// Get returns one active series, from the fastest tier that has it.
func (s *AssetService) Get(ctx context.Context, seriesID uint64) (market.Asset, error) {
	asset, ok, err := s.store.Get(ctx, s.key(seriesID))
	if err != nil {
		return market.Asset{}, shared.ErrLedgerUnavailable
	}
	if !ok {
		return market.Asset{}, shared.ErrNotFound
	}
	return asset, nil
}

// coldFetch assembles one asset from the registry entry and its metadata
// document. A zeroed registry slot is an absence, not an error; a failed
// ledger call is an error so nothing negative gets cached.
func (s *AssetService) coldFetch(ctx context.Context, key cache.Key) (market.Asset, bool, error) {
	seriesID, err := strconv.ParseUint(key.Secondary, 10, 64)
	if err != nil {
		return market.Asset{}, false, nil
	}

	record, err := s.ledger.SeriesAt(ctx, seriesID)
	if err != nil {
		return market.Asset{}, false, err
	}
	if record.TokenAddress == (common.Address{}) && record.Name == "" {
		return market.Asset{}, false, nil
	}

	doc := s.resolver.Resolve(ctx, record.MetadataURI)

	return market.Asset{
		Contract:     s.cfg.Contract,
		SeriesID:     seriesID,
		Name:         record.Name,
		Symbol:       record.Symbol,
		TokenAddress: record.TokenAddress.Hex(),
		Creator:      record.Creator.Hex(),
		MetadataURI:  record.MetadataURI,
		Metadata:     doc,
		TotalSupply:  record.TotalSupply.String(),
		MaxSupply:    record.MaxSupply.String(),
		IsActive:     record.Active,
		UpdatedAt:    time.Now().UTC(),
	}, true, nil
}

// ListActive returns every active series. The assembled list is cached
// under its own ephemeral key; on a miss it is rebuilt through the
// per-entry tier chain, so list assembly also warms individual entries.
func (s *AssetService) ListActive(ctx context.Context) ([]market.Asset, error) {
	if raw, ok, err := s.listTier.Get(ctx, assetListKey); err == nil && ok {
		var assets []market.Asset
		if json.Unmarshal(raw, &assets) == nil {
			return assets, nil
		}
		// corrupt cached list, drop it and rebuild
		_ = s.listTier.Delete(ctx, assetListKey)
	}

	count, err := s.ledger.SeriesCount(ctx)
	if err != nil {
		// ledger down: serve the durable view rather than nothing
		s.logger.Warn("list assembly falling back to durable tier", zap.Error(err))
		assets, repoErr := s.repo.ListActive(ctx)
		if repoErr != nil {
			return nil, shared.ErrLedgerUnavailable
		}
		return assets, nil
	}

	assets, err := s.collectActive(ctx, count)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(assets); err == nil {
		if err := s.listTier.Set(ctx, assetListKey, raw, s.cfg.ListTTL); err != nil {
			s.logger.Warn("list cache write failed", zap.Error(err))
		}
	}
	return assets, nil
}

// collectActive pulls series 1..count through the tier chain with bounded
// concurrency. A single failed entry is dropped from the list, not fatal.
func (s *AssetService) collectActive(ctx context.Context, count uint64) ([]market.Asset, error) {
	var mu sync.Mutex
	assets := make([]market.Asset, 0, count)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for seriesID := uint64(1); seriesID <= count; seriesID++ {
		g.Go(func() error {
			asset, ok, err := s.store.Get(ctx, s.key(seriesID))
			if err != nil {
				s.logger.Warn("list assembly dropping series",
					zap.Uint64("series_id", seriesID),
					zap.Error(err))
				return nil
			}
			if !ok {
				return nil
			}
			mu.Lock()
			assets = append(assets, asset)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(assets, func(i, j int) bool { return assets[i].SeriesID < assets[j].SeriesID })
	return assets, nil
}

// GetByTokenAddress resolves a series by its token contract address. The
// durable reverse index answers directly; on a miss the active set is
// scanned so a freshly created series is still found.
func (s *AssetService) GetByTokenAddress(ctx context.Context, tokenAddress string) (market.Asset, error) {
	if !common.IsHexAddress(tokenAddress) {
		return market.Asset{}, shared.ErrInvalidInput
	}
	normalized := normalizeAddress(tokenAddress)

	asset, ok, err := s.repo.FindByTokenAddress(ctx, normalized)
	if err == nil && ok {
		return asset, nil
	}

	assets, err := s.ListActive(ctx)
	if err != nil {
		return market.Asset{}, err
	}
	for _, a := range assets {
		if a.TokenAddress == normalized {
			return a, nil
		}
	}
	return market.Asset{}, shared.ErrNotFound
}

// Invalidate drops one series from both tiers and discards the cached list.
func (s *AssetService) Invalidate(ctx context.Context, seriesID uint64) error {
	if err := s.store.Invalidate(ctx, s.key(seriesID)); err != nil {
		return err
	}
	return s.listTier.Delete(ctx, assetListKey)
}

// Refresh re-fetches one series from the ledger after an invalidation,
// warming both tiers with the current state.
func (s *AssetService) Refresh(ctx context.Context, seriesID uint64) (market.Asset, error) {
	if err := s.Invalidate(ctx, seriesID); err != nil {
		return market.Asset{}, err
	}
	return s.Get(ctx, seriesID)
}

// Purge empties both tiers. Reconciler only.
func (s *AssetService) Purge(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.store.FlushEphemeral(ctx); err != nil {
		return err
	}
	return s.listTier.Delete(ctx, assetListKey)
}

// Warm rebuilds every active series entry from the ledger.
func (s *AssetService) Warm(ctx context.Context) error {
	count, err := s.ledger.SeriesCount(ctx)
	if err != nil {
		return err
	}
	_, err = s.collectActive(ctx, count)
	return err
}

// Stats exposes tier hit counters for the admin surface.
func (s *AssetService) Stats() cache.Stats {
	return s.store.Stats()
}

// Close releases background cache workers.
func (s *AssetService) Close() {
	s.store.Close()
}
