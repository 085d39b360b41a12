package market

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/shared"
	"github.com/chainmirror/backend/internal/infrastructure/config"
)

// Reconciler rebuilds the whole cache from the ledger. The rebuild clears
// dependents before referents (ownership rows, then listings, then assets)
// so no window exists where a cached row points at a cleared referent, then
// repopulates referents first.
type Reconciler struct {
	cfg      config.ReconcileConfig
	assets   *AssetService
	listings *ListingService
	balances *BalanceService
	logger   *zap.Logger
	running  atomic.Bool
	lastRun  atomic.Pointer[ReconcileReport]
}

// ReconcileReport records the outcome of one rebuild.
type ReconcileReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Err        string    `json:"error,omitempty"`
}

// NewReconciler creates a reconciler over the three cache services.
func NewReconciler(
	cfg config.ReconcileConfig,
	assets *AssetService,
	listings *ListingService,
	balances *BalanceService,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		assets:   assets,
		listings: listings,
		balances: balances,
		logger:   logger.Named("reconciler"),
	}
}

// Start launches the startup rebuild and the periodic schedule, both
// optional. The startup rebuild runs asynchronously: reads served while it
// runs fall through to the ledger, they do not wait.
func (r *Reconciler) Start(ctx context.Context) {
	if r.cfg.RunOnStartup {
		go func() {
			if err := r.Rebuild(ctx); err != nil {
				r.logger.Error("startup rebuild failed", zap.Error(err))
			}
		}()
	}

	if r.cfg.Interval > 0 {
		go r.runSchedule(ctx)
	}
}

func (r *Reconciler) runSchedule(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Rebuild(ctx); err != nil {
				r.logger.Error("scheduled rebuild failed", zap.Error(err))
			}
		}
	}
}

// Running reports whether a rebuild is currently in progress.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// LastReport returns the most recent rebuild outcome, or nil before any
// rebuild has finished.
func (r *Reconciler) LastReport() *ReconcileReport {
	return r.lastRun.Load()
}

// Rebuild clears and repopulates the cache. At most one rebuild runs at a
// time; a second trigger while one is in flight is rejected.
func (r *Reconciler) Rebuild(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return shared.ErrRebuildInProgress
	}
	defer r.running.Store(false)

	report := &ReconcileReport{StartedAt: time.Now().UTC()}
	err := r.rebuild(ctx)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		report.Err = err.Error()
	}
	r.lastRun.Store(report)

	if err != nil {
		return err
	}
	r.logger.Info("cache rebuild complete",
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return nil
}

func (r *Reconciler) rebuild(ctx context.Context) error {
	r.logger.Info("cache rebuild starting")

	// Clear order: ownership rows reference series, listings reference
	// series; both go before assets.
	if err := r.balances.Purge(ctx); err != nil {
		return fmt.Errorf("purge balances: %w", err)
	}
	if err := r.listings.Purge(ctx); err != nil {
		return fmt.Errorf("purge listings: %w", err)
	}
	if err := r.assets.Purge(ctx); err != nil {
		return fmt.Errorf("purge assets: %w", err)
	}

	// Repopulate referents before dependents. Balance aggregates rebuild
	// lazily on the next read per holder.
	if err := r.assets.Warm(ctx); err != nil {
		return fmt.Errorf("warm assets: %w", err)
	}
	if err := r.listings.Warm(ctx); err != nil {
		return fmt.Errorf("warm listings: %w", err)
	}
	return nil
}
