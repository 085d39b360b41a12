package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Event is one decoded ledger event as delivered to invalidation handlers.
// Delivery is at-least-once: handlers must key every resulting cache write
// by an identity taken from Args, never by delivery order.
type Event struct {
	Handle      string
	Address     common.Address
	Name        string
	Args        map[string]interface{}
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Timestamp   time.Time
}

// Uint64Arg extracts a numeric argument by name.
func (e Event) Uint64Arg(name string) (uint64, bool) {
	v, ok := e.Args[name].(*big.Int)
	if !ok {
		return 0, false
	}
	return v.Uint64(), true
}

// AddressArg extracts an address argument by name.
func (e Event) AddressArg(name string) (common.Address, bool) {
	v, ok := e.Args[name].(common.Address)
	return v, ok
}

// BigArg extracts an arbitrary-precision argument by name.
func (e Event) BigArg(name string) (*big.Int, bool) {
	v, ok := e.Args[name].(*big.Int)
	return v, ok
}

// Handler processes one event. Errors are logged and swallowed; a handler
// can never kill the stream it is attached to.
type Handler func(ctx context.Context, event Event) error

// SubscriptionManager attaches handlers to (contract handle, event name)
// pairs and runs one consuming goroutine per handle. Within one handle the
// stream is processed in ledger order; across handles there is no ordering.
type SubscriptionManager struct {
	gateway *Gateway
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[string]map[string][]Handler
	running  map[string]bool
	ctx      context.Context

	reconnectMu   sync.Mutex
	lastReconnect time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSubscriptionManager creates a manager over the given gateway.
func NewSubscriptionManager(gateway *Gateway, logger *zap.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		gateway:  gateway,
		logger:   logger.Named("subscriptions"),
		handlers: make(map[string]map[string][]Handler),
		running:  make(map[string]bool),
	}
}

// Register attaches handler to every future delivery of eventName on the
// named handle. Must be called before Start.
func (m *SubscriptionManager) Register(handleName, eventName string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[handleName] == nil {
		m.handlers[handleName] = make(map[string][]Handler)
	}
	m.handlers[handleName][eventName] = append(m.handlers[handleName][eventName], handler)
}

// Start launches one stream goroutine per registered handle.
func (m *SubscriptionManager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.mu.Lock()
	m.ctx = ctx
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		if !m.running[name] {
			m.running[name] = true
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	for _, name := range names {
		m.wg.Add(1)
		go m.runStream(ctx, name)
	}

	m.logger.Info("event subscriptions started", zap.Int("streams", len(names)))
}

// AttachStream registers handler and, if Start has already run, begins
// consuming handleName immediately. Used for token contracts discovered
// after startup. Attaching an already-attached (handle, event) pair is a
// no-op: discovery events arrive at least once, and a stacked duplicate
// would double every later dispatch.
func (m *SubscriptionManager) AttachStream(handleName, eventName string, handler Handler) {
	m.mu.Lock()
	if m.handlers[handleName] == nil {
		m.handlers[handleName] = make(map[string][]Handler)
	}
	if len(m.handlers[handleName][eventName]) == 0 {
		m.handlers[handleName][eventName] = append(m.handlers[handleName][eventName], handler)
	}

	launch := m.ctx != nil && !m.running[handleName]
	if launch {
		m.running[handleName] = true
	}
	ctx := m.ctx
	m.mu.Unlock()

	if launch {
		m.wg.Add(1)
		go m.runStream(ctx, handleName)
	}
}

// Stop cancels all streams and waits for them to drain.
func (m *SubscriptionManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("event subscriptions stopped")
}

// runStream subscribes to one contract's logs and dispatches them until the
// context ends. A dropped subscription triggers a reconnect and a fresh
// subscription; handles bound before the drop are invalid and re-resolved.
func (m *SubscriptionManager) runStream(ctx context.Context, handleName string) {
	defer m.wg.Done()

	for ctx.Err() == nil {
		handle, ok := m.gateway.Handle(handleName)
		if !ok {
			m.logger.Warn("handle unavailable, waiting",
				zap.String("handle", handleName))
			if !sleepCtx(ctx, m.gateway.cfg.ReconnectInterval) {
				return
			}
			continue
		}
		client := m.gateway.Client()
		if client == nil {
			m.reconnect(ctx)
			continue
		}

		logs := make(chan types.Log, 64)
		sub, err := client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{handle.Address},
		}, logs)
		if err != nil {
			m.logger.Warn("subscribe failed",
				zap.String("handle", handleName),
				zap.Error(err))
			m.reconnect(ctx)
			continue
		}

		m.logger.Info("subscribed",
			zap.String("handle", handleName),
			zap.String("address", handle.Address.Hex()))

		m.consume(ctx, handleName, handle, sub, logs)
	}
}

// consume drains one live subscription until it errors or the context ends.
func (m *SubscriptionManager) consume(ctx context.Context, handleName string, handle *ContractHandle, sub ethereum.Subscription, logs <-chan types.Log) {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				m.logger.Warn("subscription dropped",
					zap.String("handle", handleName),
					zap.Error(err))
			}
			m.reconnect(ctx)
			return
		case lg := <-logs:
			m.dispatch(ctx, handleName, handle, lg)
		}
	}
}

// dispatch decodes a raw log and fans it out to the registered handlers.
// Handler errors and panics are contained here; later events always still
// get processed.
func (m *SubscriptionManager) dispatch(ctx context.Context, handleName string, handle *ContractHandle, lg types.Log) {
	if len(lg.Topics) == 0 {
		return
	}

	handleABI := handle.ABI()
	eventDef, err := handleABI.EventByID(lg.Topics[0])
	if err != nil {
		// Not an event this handle's ABI knows; other contracts can share
		// an address space of topics.
		return
	}

	m.mu.Lock()
	handlers := m.handlers[handleName][eventDef.Name]
	m.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	args, err := decodeLogArgs(handleABI, eventDef, lg)
	if err != nil {
		m.logger.Warn("event decode failed",
			zap.String("handle", handleName),
			zap.String("event", eventDef.Name),
			zap.Error(err))
		return
	}

	event := Event{
		Handle:      handleName,
		Address:     handle.Address,
		Name:        eventDef.Name,
		Args:        args,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		Timestamp:   m.blockTimestamp(ctx, lg.BlockNumber),
	}

	for _, handler := range handlers {
		m.invoke(ctx, handler, event)
	}
}

// invoke runs one handler, containing panics and logging errors.
func (m *SubscriptionManager) invoke(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked",
				zap.String("handle", event.Handle),
				zap.String("event", event.Name),
				zap.Any("panic", r))
		}
	}()

	if err := handler(ctx, event); err != nil {
		m.logger.Error("event handler failed",
			zap.String("handle", event.Handle),
			zap.String("event", event.Name),
			zap.String("tx", event.TxHash.Hex()),
			zap.Error(err))
	}
}

// blockTimestamp resolves a block number to its timestamp. Some providers
// deliver logs before the header is queryable, so absence is retried rather
// than treated as invalid.
func (m *SubscriptionManager) blockTimestamp(ctx context.Context, blockNumber uint64) time.Time {
	client := m.gateway.Client()
	if client == nil {
		return time.Time{}
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, 500*time.Millisecond) {
			break
		}
		header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err == nil {
			return time.Unix(int64(header.Time), 0).UTC()
		}
		lastErr = err
	}

	m.logger.Warn("block timestamp lookup failed",
		zap.Uint64("block", blockNumber),
		zap.Error(lastErr))
	return time.Time{}
}

// reconnect re-establishes the gateway connection. Streams racing on the
// same drop are serialized, and a reconnect that just happened is not
// repeated; late arrivals still wait out the rest of the window so a
// failing re-subscribe cannot tight-loop inside it.
func (m *SubscriptionManager) reconnect(ctx context.Context) {
	m.reconnectMu.Lock()
	defer m.reconnectMu.Unlock()

	interval := m.gateway.cfg.ReconnectInterval
	if remaining := interval - time.Since(m.lastReconnect); remaining > 0 {
		sleepCtx(ctx, remaining)
		return
	}
	if !sleepCtx(ctx, interval) {
		return
	}

	if err := m.gateway.Reconnect(ctx); err != nil {
		m.logger.Warn("reconnect failed", zap.Error(err))
		return
	}
	m.lastReconnect = time.Now()
}

// decodeLogArgs unpacks both the data segment and the indexed topics of a
// log into one named argument map.
func decodeLogArgs(handleABI abi.ABI, eventDef *abi.Event, lg types.Log) (map[string]interface{}, error) {
	args := make(map[string]interface{})

	if len(lg.Data) > 0 {
		if err := handleABI.UnpackIntoMap(args, eventDef.Name, lg.Data); err != nil {
			return nil, err
		}
	}

	var indexed abi.Arguments
	for _, input := range eventDef.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			return nil, err
		}
	}

	return args, nil
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
