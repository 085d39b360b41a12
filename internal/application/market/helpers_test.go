package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
	"github.com/chainmirror/backend/internal/infrastructure/ledger"
)

var (
	registryAddr    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	marketplaceAddr = common.HexToAddress("0x1000000000000000000000000000000000000002")
	tokenAddrA      = common.HexToAddress("0x200000000000000000000000000000000000000A")
	tokenAddrB      = common.HexToAddress("0x200000000000000000000000000000000000000B")
	holderAddr      = common.HexToAddress("0x3000000000000000000000000000000000000001")
)

var errLedgerDown = errors.New("ledger down")

// fakeLedger serves scripted records. A missing id decodes as a zeroed
// slot, matching what the contracts return for unknown ids.
type fakeLedger struct {
	mu       sync.Mutex
	series   map[uint64]ledger.SeriesRecord
	listings map[uint64]ledger.ListingRecord
	balances map[string]*big.Int

	down         bool
	latency      time.Duration
	seriesCalls  int
	listingCalls int
	balanceCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		series:   make(map[uint64]ledger.SeriesRecord),
		listings: make(map[uint64]ledger.ListingRecord),
		balances: make(map[string]*big.Int),
	}
}

func balanceKey(token, holder common.Address, seriesID uint64) string {
	return fmt.Sprintf("%s|%s|%d", token.Hex(), holder.Hex(), seriesID)
}

func (f *fakeLedger) setSeries(rec ledger.SeriesRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[rec.SeriesID] = rec
}

func (f *fakeLedger) setListing(rec ledger.ListingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[rec.ListingID] = rec
}

func (f *fakeLedger) dropListing(listingID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listings, listingID)
}

func (f *fakeLedger) setBalance(token, holder common.Address, seriesID uint64, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[balanceKey(token, holder, seriesID)] = big.NewInt(amount)
}

func (f *fakeLedger) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// setLatency makes every record lookup pause first, widening windows that
// are otherwise too fast to race against.
func (f *fakeLedger) setLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

func (f *fakeLedger) sleepLatency() {
	f.mu.Lock()
	d := f.latency
	f.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (f *fakeLedger) SeriesCount(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errLedgerDown
	}
	var max uint64
	for id := range f.series {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (f *fakeLedger) SeriesAt(ctx context.Context, seriesID uint64) (ledger.SeriesRecord, error) {
	f.sleepLatency()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seriesCalls++
	if f.down {
		return ledger.SeriesRecord{}, errLedgerDown
	}
	rec, ok := f.series[seriesID]
	if !ok {
		return ledger.SeriesRecord{SeriesID: seriesID, TotalSupply: big.NewInt(0), MaxSupply: big.NewInt(0)}, nil
	}
	return rec, nil
}

func (f *fakeLedger) ListingCount(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errLedgerDown
	}
	var max uint64
	for id := range f.listings {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (f *fakeLedger) ListingAt(ctx context.Context, listingID uint64) (ledger.ListingRecord, error) {
	f.sleepLatency()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listingCalls++
	if f.down {
		return ledger.ListingRecord{}, errLedgerDown
	}
	rec, ok := f.listings[listingID]
	if !ok {
		return ledger.ListingRecord{ListingID: listingID, Quantity: big.NewInt(0), UnitPrice: big.NewInt(0)}, nil
	}
	return rec, nil
}

func (f *fakeLedger) BalanceOf(ctx context.Context, token common.Address, holder common.Address, seriesID uint64) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.down {
		return nil, errLedgerDown
	}
	if b, ok := f.balances[balanceKey(token, holder, seriesID)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

type fakeResolver struct {
	docs map[string]string
}

func (r *fakeResolver) Resolve(ctx context.Context, uri string) json.RawMessage {
	if doc, ok := r.docs[uri]; ok {
		return json.RawMessage(doc)
	}
	return json.RawMessage(`{}`)
}

// memAssetRepo is an in-memory AssetRepository.
type memAssetRepo struct {
	mu      sync.Mutex
	rows    map[string]market.Asset
	upserts int
}

func newMemAssetRepo() *memAssetRepo {
	return &memAssetRepo{rows: make(map[string]market.Asset)}
}

func (r *memAssetRepo) Fetch(ctx context.Context, key cache.Key) (market.Asset, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[key.String()]
	return a, ok, nil
}

func (r *memAssetRepo) Upsert(ctx context.Context, key cache.Key, asset market.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.rows[key.String()] = asset
	return nil
}

func (r *memAssetRepo) Delete(ctx context.Context, key cache.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, key.String())
	return nil
}

func (r *memAssetRepo) ListActive(ctx context.Context) ([]market.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []market.Asset
	for _, a := range r.rows {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAssetRepo) FindByTokenAddress(ctx context.Context, tokenAddress string) (market.Asset, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.TokenAddress == tokenAddress && a.IsActive {
			return a, true, nil
		}
	}
	return market.Asset{}, false, nil
}

func (r *memAssetRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]market.Asset)
	return nil
}

func (r *memAssetRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// memListingRepo is an in-memory ListingRepository.
type memListingRepo struct {
	mu   sync.Mutex
	rows map[string]market.Listing
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{rows: make(map[string]market.Listing)}
}

func (r *memListingRepo) Fetch(ctx context.Context, key cache.Key) (market.Listing, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[key.String()]
	return l, ok, nil
}

func (r *memListingRepo) Upsert(ctx context.Context, key cache.Key, listing market.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[key.String()] = listing
	return nil
}

func (r *memListingRepo) Delete(ctx context.Context, key cache.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, key.String())
	return nil
}

func (r *memListingRepo) ListActive(ctx context.Context) ([]market.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []market.Listing
	for _, l := range r.rows {
		if l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memListingRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]market.Listing)
	return nil
}

func (r *memListingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// memOwnershipRepo is an in-memory OwnershipRepository keyed like the
// durable table: one row per (holder, contract, series).
type memOwnershipRepo struct {
	mu   sync.Mutex
	rows map[string]market.OwnershipEntry
}

func newMemOwnershipRepo() *memOwnershipRepo {
	return &memOwnershipRepo{rows: make(map[string]market.OwnershipEntry)}
}

func ownershipKey(holder, contract string, seriesID uint64) string {
	return fmt.Sprintf("%s|%s|%d", holder, contract, seriesID)
}

func (r *memOwnershipRepo) Fetch(ctx context.Context, key cache.Key) (market.HolderBalances, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []market.OwnershipEntry
	for _, e := range r.rows {
		if e.Holder == key.Primary && market.IsPositiveQuantity(e.Quantity) {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return market.HolderBalances{}, false, nil
	}
	return market.HolderBalances{Holder: key.Primary, Balances: entries, UpdatedAt: time.Now().UTC()}, true, nil
}

func (r *memOwnershipRepo) Upsert(ctx context.Context, key cache.Key, balances market.HolderBalances) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.rows {
		if e.Holder == key.Primary {
			delete(r.rows, k)
		}
	}
	for _, e := range balances.Balances {
		r.rows[ownershipKey(e.Holder, e.Contract, e.SeriesID)] = e
	}
	return nil
}

func (r *memOwnershipRepo) Delete(ctx context.Context, key cache.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.rows {
		if e.Holder == key.Primary {
			delete(r.rows, k)
		}
	}
	return nil
}

func (r *memOwnershipRepo) UpsertEntry(ctx context.Context, entry market.OwnershipEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[ownershipKey(entry.Holder, entry.Contract, entry.SeriesID)] = entry
	return nil
}

func (r *memOwnershipRepo) DeleteEntry(ctx context.Context, holder, contract string, seriesID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, ownershipKey(holder, contract, seriesID))
	return nil
}

func (r *memOwnershipRepo) DeleteBySeries(ctx context.Context, contract string, seriesID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.rows {
		if e.Contract == contract && e.SeriesID == seriesID {
			delete(r.rows, k)
		}
	}
	return nil
}

func (r *memOwnershipRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]market.OwnershipEntry)
	return nil
}

func (r *memOwnershipRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func bigArg(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

func activeSeries(id uint64, name string, token common.Address) ledger.SeriesRecord {
	return ledger.SeriesRecord{
		SeriesID:     id,
		Name:         name,
		Symbol:       "CMT",
		TokenAddress: token,
		Creator:      holderAddr,
		MetadataURI:  "ipfs://Qm" + name,
		TotalSupply:  big.NewInt(100),
		MaxSupply:    big.NewInt(1000),
		Active:       true,
	}
}

func openListing(id, seriesID uint64, qty int64) ledger.ListingRecord {
	return ledger.ListingRecord{
		ListingID: id,
		Seller:    holderAddr,
		SeriesID:  seriesID,
		Quantity:  big.NewInt(qty),
		UnitPrice: big.NewInt(2_000_000_000_000_000_000),
		Active:    true,
	}
}

type marketFixture struct {
	ledger      *fakeLedger
	assetRepo   *memAssetRepo
	listingRepo *memListingRepo
	ownerRepo   *memOwnershipRepo
	ephemeral   *cache.MemoryTier
	assets      *AssetService
	listings    *ListingService
	balances    *BalanceService
}

func newMarketFixture() *marketFixture {
	f := &marketFixture{
		ledger:      newFakeLedger(),
		assetRepo:   newMemAssetRepo(),
		listingRepo: newMemListingRepo(),
		ownerRepo:   newMemOwnershipRepo(),
		ephemeral:   cache.NewMemoryTier(),
	}
	logger := zap.NewNop()
	resolver := &fakeResolver{docs: map[string]string{}}

	f.assets = NewAssetService(AssetServiceConfig{
		Contract: registryAddr.Hex(),
		TTL:      time.Minute,
		ListTTL:  time.Minute,
	}, f.ledger, resolver, f.assetRepo, f.ephemeral, logger,
		cache.WithSynchronousRepopulate[market.Asset]())

	f.listings = NewListingService(ListingServiceConfig{
		Contract: marketplaceAddr.Hex(),
		TTL:      time.Minute,
		ListTTL:  time.Minute,
	}, f.ledger, f.listingRepo, f.ephemeral, logger,
		cache.WithSynchronousRepopulate[market.Listing]())

	f.balances = NewBalanceService(BalanceServiceConfig{
		Contract:    registryAddr.Hex(),
		TTL:         time.Minute,
		Concurrency: 4,
	}, f.ledger, f.assets, f.ownerRepo, f.ephemeral, logger,
		cache.WithSynchronousRepopulate[market.HolderBalances]())

	return f
}
