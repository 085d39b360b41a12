// Package ledger is the boundary to the chain: one streaming RPC
// connection, named contract handles, typed record decoding, and event
// subscriptions. Everything above this package works with named records and
// domain types, never raw ABI tuples.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chainmirror/backend/internal/infrastructure/config"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when an operation needs the streaming client
// before Connect has succeeded or after the connection was lost.
var ErrNotConnected = errors.New("ledger: not connected")

// Static handle names. Dynamic token handles use TokenHandleName.
const (
	HandleRegistry    = "registry"
	HandleMarketplace = "marketplace"
)

// TokenHandleName returns the handle name for a discovered series token
// contract.
func TokenHandleName(address common.Address) string {
	return "token:" + address.Hex()
}

// ContractHandle is a bound contract interface. Handles become invalid when
// the connection is lost; callers must re-resolve via Gateway.Handle after a
// reconnect rather than holding one across calls.
type ContractHandle struct {
	Name     string
	Address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

// Call performs a read-only contract call and leaves the raw decoded output
// in out. Typed wrappers (Registry, Marketplace, SeriesToken) convert the
// positional output into named records immediately; nothing above this
// package sees the raw slice.
func (h *ContractHandle) Call(ctx context.Context, out *[]interface{}, method string, args ...interface{}) error {
	opts := &bind.CallOpts{Context: ctx}
	if err := h.contract.Call(opts, out, method, args...); err != nil {
		return fmt.Errorf("call %s.%s: %w", h.Name, method, err)
	}
	return nil
}

// ABI exposes the handle's parsed ABI for event decoding.
func (h *ContractHandle) ABI() abi.ABI {
	return h.abi
}

// Gateway maintains the streaming connection to the ledger and the set of
// contract handles bound over it.
type Gateway struct {
	cfg    config.LedgerConfig
	logger *zap.Logger

	mu      sync.RWMutex
	client  *ethclient.Client
	handles map[string]*ContractHandle
	// token contract addresses discovered at runtime, re-bound on reconnect
	tokenAddresses map[common.Address]bool
}

// NewGateway creates a gateway for the configured endpoint. No connection is
// made until Connect.
func NewGateway(cfg config.LedgerConfig, logger *zap.Logger) *Gateway {
	return &Gateway{
		cfg:            cfg,
		logger:         logger.Named("ledger"),
		handles:        make(map[string]*ContractHandle),
		tokenAddresses: make(map[common.Address]bool),
	}
}

// Connect dials the streaming endpoint and binds the static contract
// handles. Errors here are fatal at startup: the process must not serve
// reads against a ledger it cannot reach.
func (g *Gateway) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.DialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, g.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("dial ledger endpoint %s: %w", g.cfg.Endpoint, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.client = client
	if err := g.bindHandlesLocked(); err != nil {
		client.Close()
		g.client = nil
		return err
	}

	g.logger.Info("ledger connected",
		zap.String("endpoint", g.cfg.Endpoint),
		zap.String("registry", g.cfg.RegistryAddress),
		zap.String("marketplace", g.cfg.MarketplaceAddress))
	return nil
}

// Reconnect tears down the current connection and dials again. All existing
// handles are rebuilt; previously discovered token handles are re-bound.
func (g *Gateway) Reconnect(ctx context.Context) error {
	g.mu.Lock()
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
	g.mu.Unlock()

	if err := g.Connect(ctx); err != nil {
		return err
	}

	g.logger.Info("ledger reconnected")
	return nil
}

// bindHandlesLocked (re)creates static handles plus any known dynamic token
// handles on the current client. Caller holds g.mu.
func (g *Gateway) bindHandlesLocked() error {
	registryABI, err := abi.JSON(stringsReader(registryABIJSON))
	if err != nil {
		return fmt.Errorf("parse registry ABI: %w", err)
	}
	marketABI, err := abi.JSON(stringsReader(marketplaceABIJSON))
	if err != nil {
		return fmt.Errorf("parse marketplace ABI: %w", err)
	}
	tokenABI, err := abi.JSON(stringsReader(seriesTokenABIJSON))
	if err != nil {
		return fmt.Errorf("parse token ABI: %w", err)
	}

	g.handles = make(map[string]*ContractHandle)
	g.handles[HandleRegistry] = g.bindLocked(HandleRegistry,
		common.HexToAddress(g.cfg.RegistryAddress), registryABI)
	g.handles[HandleMarketplace] = g.bindLocked(HandleMarketplace,
		common.HexToAddress(g.cfg.MarketplaceAddress), marketABI)

	for addr := range g.tokenAddresses {
		name := TokenHandleName(addr)
		g.handles[name] = g.bindLocked(name, addr, tokenABI)
	}
	return nil
}

func (g *Gateway) bindLocked(name string, address common.Address, parsed abi.ABI) *ContractHandle {
	return &ContractHandle{
		Name:     name,
		Address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, g.client, g.client, g.client),
	}
}

// Handle returns the named contract handle, or false when it is not bound.
// Absence is a recoverable condition for the caller, never a crash.
func (g *Gateway) Handle(name string) (*ContractHandle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handles[name]
	return h, ok
}

// HandleNames returns the names of all currently bound handles.
func (g *Gateway) HandleNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.handles))
	for name := range g.handles {
		names = append(names, name)
	}
	return names
}

// Client returns the underlying streaming client, or nil when disconnected.
func (g *Gateway) Client() *ethclient.Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client
}

// Healthy reports whether the endpoint currently answers. Used by the
// readiness probe.
func (g *Gateway) Healthy(ctx context.Context) error {
	client := g.Client()
	if client == nil {
		return ErrNotConnected
	}
	_, err := client.BlockNumber(ctx)
	return err
}

// DiscoveryResult is the outcome of one dynamic handle discovery attempt.
type DiscoveryResult struct {
	SeriesID uint64
	Address  common.Address
	Handle   *ContractHandle
	Err      error
}

// DiscoverSeriesTokens enumerates the registry and binds one token handle
// per discovered series token contract. One bad entry must not abort the
// others: failures are collected per attempt, logged, and skipped.
func (g *Gateway) DiscoverSeriesTokens(ctx context.Context) []DiscoveryResult {
	registry, ok := g.Handle(HandleRegistry)
	if !ok {
		g.logger.Warn("token discovery skipped, registry handle unavailable")
		return nil
	}

	reg := NewRegistry(registry)
	count, err := reg.SeriesCount(ctx)
	if err != nil {
		g.logger.Warn("token discovery failed to enumerate registry", zap.Error(err))
		return nil
	}

	tokenABI, err := abi.JSON(stringsReader(seriesTokenABIJSON))
	if err != nil {
		g.logger.Error("token discovery failed to parse token ABI", zap.Error(err))
		return nil
	}

	results := make([]DiscoveryResult, 0, count)
	for seriesID := uint64(1); seriesID <= count; seriesID++ {
		record, err := reg.SeriesAt(ctx, seriesID)
		if err != nil {
			g.logger.Warn("token discovery skipping series",
				zap.Uint64("series_id", seriesID),
				zap.Error(err))
			results = append(results, DiscoveryResult{SeriesID: seriesID, Err: err})
			continue
		}
		if record.TokenAddress == (common.Address{}) {
			results = append(results, DiscoveryResult{
				SeriesID: seriesID,
				Err:      fmt.Errorf("series %d has no token contract", seriesID),
			})
			continue
		}

		name := TokenHandleName(record.TokenAddress)
		g.mu.Lock()
		g.tokenAddresses[record.TokenAddress] = true
		handle := g.bindLocked(name, record.TokenAddress, tokenABI)
		g.handles[name] = handle
		g.mu.Unlock()

		results = append(results, DiscoveryResult{
			SeriesID: seriesID,
			Address:  record.TokenAddress,
			Handle:   handle,
		})
	}

	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}
	g.logger.Info("token handle discovery complete",
		zap.Int("discovered", succeeded),
		zap.Int("failed", len(results)-succeeded))
	return results
}

// BindToken binds a dynamic token handle for a contract discovered after
// startup, typically on a SeriesCreated event. Idempotent; the address stays
// registered so reconnects re-bind it.
func (g *Gateway) BindToken(address common.Address) (*ContractHandle, error) {
	tokenABI, err := abi.JSON(stringsReader(seriesTokenABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse token ABI: %w", err)
	}

	name := TokenHandleName(address)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil, fmt.Errorf("bind token %s: %w", address.Hex(), ErrNotConnected)
	}
	g.tokenAddresses[address] = true
	if existing, ok := g.handles[name]; ok {
		return existing, nil
	}
	handle := g.bindLocked(name, address, tokenABI)
	g.handles[name] = handle
	return handle, nil
}

// Close releases the streaming connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
	g.handles = make(map[string]*ContractHandle)
}
