package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/chainmirror/backend/internal/infrastructure/cache"
)

// CacheMetrics exports the tier hit counters of every registered cache
// store as observable counters, read on each metrics collection.
type CacheMetrics struct {
	mu      sync.Mutex
	sources map[string]func() cache.Stats

	ephemeralHits   metric.Int64ObservableCounter
	ephemeralMisses metric.Int64ObservableCounter
	durableHits     metric.Int64ObservableCounter
	durableMisses   metric.Int64ObservableCounter
	coldFetches     metric.Int64ObservableCounter
}

// NewCacheMetrics creates the cache metric instruments on the provider.
func NewCacheMetrics(mp *MeterProvider) (*CacheMetrics, error) {
	meter := mp.Meter("chainmirror.cache")
	m := &CacheMetrics{sources: make(map[string]func() cache.Stats)}

	var err error
	counters := []struct {
		dst  *metric.Int64ObservableCounter
		name string
		desc string
	}{
		{&m.ephemeralHits, "cache.ephemeral.hits", "Reads answered by the ephemeral tier"},
		{&m.ephemeralMisses, "cache.ephemeral.misses", "Reads that fell past the ephemeral tier"},
		{&m.durableHits, "cache.durable.hits", "Reads answered by the durable tier"},
		{&m.durableMisses, "cache.durable.misses", "Reads that fell past the durable tier"},
		{&m.coldFetches, "cache.cold_fetches", "Reads that reached the ledger"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64ObservableCounter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}

	_, err = meter.RegisterCallback(m.observe,
		m.ephemeralHits, m.ephemeralMisses, m.durableHits, m.durableMisses, m.coldFetches)
	if err != nil {
		return nil, fmt.Errorf("failed to register cache metrics callback: %w", err)
	}
	return m, nil
}

// Register adds one store's stats source under its name.
func (m *CacheMetrics) Register(name string, stats func() cache.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = stats
}

func (m *CacheMetrics) observe(ctx context.Context, o metric.Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, source := range m.sources {
		stats := source()
		attrs := metric.WithAttributes(AttrCacheStore.String(name))
		o.ObserveInt64(m.ephemeralHits, stats.EphemeralHits, attrs)
		o.ObserveInt64(m.ephemeralMisses, stats.EphemeralMisses, attrs)
		o.ObserveInt64(m.durableHits, stats.DurableHits, attrs)
		o.ObserveInt64(m.durableMisses, stats.DurableMisses, attrs)
		o.ObserveInt64(m.coldFetches, stats.ColdFetches, attrs)
	}
	return nil
}
