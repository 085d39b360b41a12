package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/domain/shared"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
)

// OwnershipRepository is the durable tier for aggregated balances plus the
// row-level operations the transfer path and the reconciler need.
type OwnershipRepository interface {
	cache.DurableBackend[market.HolderBalances]
	UpsertEntry(ctx context.Context, entry market.OwnershipEntry) error
	DeleteEntry(ctx context.Context, holder, contract string, seriesID uint64) error
	DeleteBySeries(ctx context.Context, contract string, seriesID uint64) error
	DeleteAll(ctx context.Context) error
}

// BalanceServiceConfig tunes balance aggregation.
type BalanceServiceConfig struct {
	// Contract is the registry address recorded on ownership rows.
	Contract string
	// TTL is the ephemeral lifetime of an aggregated balance view. Short:
	// balances churn on every transfer.
	TTL time.Duration
	// Concurrency bounds parallel balanceOf calls during aggregation.
	Concurrency int
}

// BalanceService serves per-holder balances. A cold aggregation queries
// balanceOf on every active series token with bounded concurrency; a single
// failed call fails the whole aggregation so a partial view is never cached.
type BalanceService struct {
	cfg    BalanceServiceConfig
	ledger LedgerReader
	assets *AssetService
	repo   OwnershipRepository
	store  *cache.TieredStore[market.HolderBalances]
	logger *zap.Logger
}

// NewBalanceService wires the balance tier chain.
func NewBalanceService(
	cfg BalanceServiceConfig,
	reader LedgerReader,
	assets *AssetService,
	repo OwnershipRepository,
	ephemeral cache.EphemeralTier,
	logger *zap.Logger,
	opts ...cache.TieredStoreOption[market.HolderBalances],
) *BalanceService {
	cfg.Contract = normalizeAddress(cfg.Contract)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	s := &BalanceService{
		cfg:    cfg,
		ledger: reader,
		assets: assets,
		repo:   repo,
		logger: logger.Named("balances"),
	}
	opts = append([]cache.TieredStoreOption[market.HolderBalances]{cache.WithLogger[market.HolderBalances](logger)}, opts...)
	s.store = cache.NewTieredStore[market.HolderBalances]("balance", ephemeral, repo, s.coldFetch, cfg.TTL, opts...)
	return s
}

func (s *BalanceService) key(holder string) cache.Key {
	return cache.NewKey(normalizeAddress(holder))
}

// GetBalances returns the holder's positive balances across all active
// series. An empty aggregate is a valid answer, not an absence.
func (s *BalanceService) GetBalances(ctx context.Context, holder string) (market.HolderBalances, error) {
	if !common.IsHexAddress(holder) {
		return market.HolderBalances{}, shared.ErrInvalidInput
	}
	balances, ok, err := s.store.Get(ctx, s.key(holder))
	if err != nil {
		return market.HolderBalances{}, shared.ErrLedgerUnavailable
	}
	if !ok {
		return market.HolderBalances{Holder: normalizeAddress(holder)}, nil
	}
	return balances, nil
}

// coldFetch aggregates the holder's balance over every active series token.
func (s *BalanceService) coldFetch(ctx context.Context, key cache.Key) (market.HolderBalances, bool, error) {
	holder := key.Primary
	holderAddr := common.HexToAddress(holder)

	assets, err := s.assets.ListActive(ctx)
	if err != nil {
		return market.HolderBalances{}, false, err
	}

	now := time.Now().UTC()
	entries := make([]market.OwnershipEntry, len(assets))
	present := make([]bool, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, asset := range assets {
		g.Go(func() error {
			balance, err := s.ledger.BalanceOf(gctx, common.HexToAddress(asset.TokenAddress), holderAddr, asset.SeriesID)
			if err != nil {
				return fmt.Errorf("balanceOf series %d: %w", asset.SeriesID, err)
			}
			if balance.Sign() <= 0 {
				return nil
			}
			entries[i] = market.OwnershipEntry{
				Holder:    holder,
				Contract:  s.cfg.Contract,
				SeriesID:  asset.SeriesID,
				Quantity:  balance.String(),
				UpdatedAt: now,
			}
			present[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return market.HolderBalances{}, false, err
	}

	held := make([]market.OwnershipEntry, 0, len(assets))
	for i, ok := range present {
		if ok {
			held = append(held, entries[i])
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].SeriesID < held[j].SeriesID })

	return market.HolderBalances{Holder: holder, Balances: held, UpdatedAt: now}, true, nil
}

// RefreshHolding re-reads one (holder, series) balance after a transfer and
// rewrites the durable row in place. Only the holder's ephemeral aggregate
// is dropped; other holders are untouched.
func (s *BalanceService) RefreshHolding(ctx context.Context, holder string, token common.Address, seriesID uint64) error {
	normalized := normalizeAddress(holder)

	balance, err := s.ledger.BalanceOf(ctx, token, common.HexToAddress(normalized), seriesID)
	if err != nil {
		return fmt.Errorf("refresh holding %s series %d: %w", normalized, seriesID, err)
	}

	if balance.Sign() > 0 {
		err = s.repo.UpsertEntry(ctx, market.OwnershipEntry{
			Holder:    normalized,
			Contract:  s.cfg.Contract,
			SeriesID:  seriesID,
			Quantity:  balance.String(),
			UpdatedAt: time.Now().UTC(),
		})
	} else {
		err = s.repo.DeleteEntry(ctx, normalized, s.cfg.Contract, seriesID)
	}
	if err != nil {
		return err
	}

	return s.store.DropEphemeral(ctx, s.key(normalized))
}

// PurgeSeries removes every holder's rows for one retired series and flushes
// the ephemeral aggregates, since any of them may include the series.
func (s *BalanceService) PurgeSeries(ctx context.Context, seriesID uint64) error {
	if err := s.repo.DeleteBySeries(ctx, s.cfg.Contract, seriesID); err != nil {
		return err
	}
	return s.store.FlushEphemeral(ctx)
}

// Purge empties both tiers. Reconciler only; balance aggregates rebuild
// lazily on the next read.
func (s *BalanceService) Purge(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return err
	}
	return s.store.FlushEphemeral(ctx)
}

// Stats exposes tier hit counters for the admin surface.
func (s *BalanceService) Stats() cache.Stats {
	return s.store.Stats()
}

// Close releases background cache workers.
func (s *BalanceService) Close() {
	s.store.Close()
}
