package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Event names emitted by the mirrored contracts.
const (
	EventSeriesCreated    = "SeriesCreated"
	EventSeriesUpdated    = "SeriesUpdated"
	EventSeriesRetired    = "SeriesRetired"
	EventListingCreated   = "ListingCreated"
	EventListingSold      = "ListingSold"
	EventListingCancelled = "ListingCancelled"
	EventTransferSingle   = "TransferSingle"
)

const registryABIJSON = `[
  {"type":"function","name":"seriesCount","stateMutability":"view","inputs":[],"outputs":[{"name":"count","type":"uint256"}]},
  {"type":"function","name":"series","stateMutability":"view","inputs":[{"name":"seriesId","type":"uint256"}],"outputs":[
    {"name":"name","type":"string"},
    {"name":"symbol","type":"string"},
    {"name":"token","type":"address"},
    {"name":"creator","type":"address"},
    {"name":"metadataURI","type":"string"},
    {"name":"totalSupply","type":"uint256"},
    {"name":"maxSupply","type":"uint256"},
    {"name":"active","type":"bool"}]},
  {"type":"event","name":"SeriesCreated","anonymous":false,"inputs":[{"name":"seriesId","type":"uint256","indexed":true}]},
  {"type":"event","name":"SeriesUpdated","anonymous":false,"inputs":[{"name":"seriesId","type":"uint256","indexed":true}]},
  {"type":"event","name":"SeriesRetired","anonymous":false,"inputs":[{"name":"seriesId","type":"uint256","indexed":true}]}
]`

const marketplaceABIJSON = `[
  {"type":"function","name":"listingCount","stateMutability":"view","inputs":[],"outputs":[{"name":"count","type":"uint256"}]},
  {"type":"function","name":"listings","stateMutability":"view","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[
    {"name":"seller","type":"address"},
    {"name":"seriesId","type":"uint256"},
    {"name":"quantity","type":"uint256"},
    {"name":"unitPrice","type":"uint256"},
    {"name":"active","type":"bool"}]},
  {"type":"event","name":"ListingCreated","anonymous":false,"inputs":[
    {"name":"listingId","type":"uint256","indexed":true},
    {"name":"seller","type":"address","indexed":true}]},
  {"type":"event","name":"ListingSold","anonymous":false,"inputs":[
    {"name":"listingId","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true}]},
  {"type":"event","name":"ListingCancelled","anonymous":false,"inputs":[
    {"name":"listingId","type":"uint256","indexed":true}]}
]`

const seriesTokenABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"},
    {"name":"id","type":"uint256"}],"outputs":[{"name":"balance","type":"uint256"}]},
  {"type":"event","name":"TransferSingle","anonymous":false,"inputs":[
    {"name":"operator","type":"address","indexed":true},
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"id","type":"uint256"},
    {"name":"value","type":"uint256"}]}
]`

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

// SeriesRecord is the typed form of one registry entry, decoded once at the
// ledger boundary.
type SeriesRecord struct {
	SeriesID     uint64
	Name         string
	Symbol       string
	TokenAddress common.Address
	Creator      common.Address
	MetadataURI  string
	TotalSupply  *big.Int
	MaxSupply    *big.Int
	Active       bool
}

// ListingRecord is the typed form of one marketplace listing slot.
type ListingRecord struct {
	ListingID uint64
	Seller    common.Address
	SeriesID  uint64
	Quantity  *big.Int
	UnitPrice *big.Int
	Active    bool
}

// Registry wraps the registry contract handle with typed calls.
type Registry struct {
	handle *ContractHandle
}

// NewRegistry creates a typed wrapper over the registry handle.
func NewRegistry(handle *ContractHandle) *Registry {
	return &Registry{handle: handle}
}

// SeriesCount returns the number of series registered on the ledger.
// Series ids are 1-based and dense up to this count.
func (r *Registry) SeriesCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := r.handle.Call(ctx, &out, "seriesCount"); err != nil {
		return 0, err
	}
	count, err := bigAt(out, 0)
	if err != nil {
		return 0, fmt.Errorf("decode seriesCount: %w", err)
	}
	return count.Uint64(), nil
}

// SeriesAt fetches and decodes one registry entry.
func (r *Registry) SeriesAt(ctx context.Context, seriesID uint64) (SeriesRecord, error) {
	var out []interface{}
	if err := r.handle.Call(ctx, &out, "series", new(big.Int).SetUint64(seriesID)); err != nil {
		return SeriesRecord{}, err
	}

	record := SeriesRecord{SeriesID: seriesID}
	fields := []func() error{
		func() (err error) { record.Name, err = stringAt(out, 0); return },
		func() (err error) { record.Symbol, err = stringAt(out, 1); return },
		func() (err error) { record.TokenAddress, err = addressAt(out, 2); return },
		func() (err error) { record.Creator, err = addressAt(out, 3); return },
		func() (err error) { record.MetadataURI, err = stringAt(out, 4); return },
		func() (err error) { record.TotalSupply, err = bigAt(out, 5); return },
		func() (err error) { record.MaxSupply, err = bigAt(out, 6); return },
		func() (err error) { record.Active, err = boolAt(out, 7); return },
	}
	for _, decode := range fields {
		if err := decode(); err != nil {
			return SeriesRecord{}, fmt.Errorf("decode series %d: %w", seriesID, err)
		}
	}
	return record, nil
}

// Marketplace wraps the marketplace contract handle with typed calls.
type Marketplace struct {
	handle *ContractHandle
}

// NewMarketplace creates a typed wrapper over the marketplace handle.
func NewMarketplace(handle *ContractHandle) *Marketplace {
	return &Marketplace{handle: handle}
}

// ListingCount returns the highest listing sequence number ever assigned.
func (m *Marketplace) ListingCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := m.handle.Call(ctx, &out, "listingCount"); err != nil {
		return 0, err
	}
	count, err := bigAt(out, 0)
	if err != nil {
		return 0, fmt.Errorf("decode listingCount: %w", err)
	}
	return count.Uint64(), nil
}

// ListingAt fetches and decodes one listing slot. Closed listings read back
// zeroed: callers must check Active before trusting the rest of the record.
func (m *Marketplace) ListingAt(ctx context.Context, listingID uint64) (ListingRecord, error) {
	var out []interface{}
	if err := m.handle.Call(ctx, &out, "listings", new(big.Int).SetUint64(listingID)); err != nil {
		return ListingRecord{}, err
	}

	record := ListingRecord{ListingID: listingID}
	fields := []func() error{
		func() (err error) { record.Seller, err = addressAt(out, 0); return },
		func() error {
			seriesID, err := bigAt(out, 1)
			if err == nil {
				record.SeriesID = seriesID.Uint64()
			}
			return err
		},
		func() (err error) { record.Quantity, err = bigAt(out, 2); return },
		func() (err error) { record.UnitPrice, err = bigAt(out, 3); return },
		func() (err error) { record.Active, err = boolAt(out, 4); return },
	}
	for _, decode := range fields {
		if err := decode(); err != nil {
			return ListingRecord{}, fmt.Errorf("decode listing %d: %w", listingID, err)
		}
	}
	return record, nil
}

// SeriesToken wraps a discovered series token handle with typed calls.
type SeriesToken struct {
	handle *ContractHandle
}

// NewSeriesToken creates a typed wrapper over a series token handle.
func NewSeriesToken(handle *ContractHandle) *SeriesToken {
	return &SeriesToken{handle: handle}
}

// BalanceOf returns the holder's raw quantity for one token id.
func (t *SeriesToken) BalanceOf(ctx context.Context, holder common.Address, id uint64) (*big.Int, error) {
	var out []interface{}
	if err := t.handle.Call(ctx, &out, "balanceOf", holder, new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	balance, err := bigAt(out, 0)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	return balance, nil
}

// Positional decode helpers. The raw output slice stops here; everything
// above the boundary works with named records.

func stringAt(out []interface{}, i int) (string, error) {
	if i >= len(out) {
		return "", fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(string)
	if !ok {
		return "", fmt.Errorf("output %d is %T, want string", i, out[i])
	}
	return v, nil
}

func addressAt(out []interface{}, i int) (common.Address, error) {
	if i >= len(out) {
		return common.Address{}, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d is %T, want address", i, out[i])
	}
	return v, nil
}

func bigAt(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d is %T, want *big.Int", i, out[i])
	}
	return v, nil
}

func boolAt(out []interface{}, i int) (bool, error) {
	if i >= len(out) {
		return false, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(bool)
	if !ok {
		return false, fmt.Errorf("output %d is %T, want bool", i, out[i])
	}
	return v, nil
}
