package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appmarket "github.com/chainmirror/backend/internal/application/market"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
	"github.com/chainmirror/backend/internal/interfaces/http/dto"
)

// CacheRebuilder is the slice of the reconciler the admin handler needs.
type CacheRebuilder interface {
	Rebuild(ctx context.Context) error
	Running() bool
	LastReport() *appmarket.ReconcileReport
}

// StatsFunc reports counters for one cache store.
type StatsFunc func() cache.Stats

// AdminHandler serves the cache-management endpoints.
type AdminHandler struct {
	BaseHandler
	reconciler CacheRebuilder
	stats      []StatsFunc
}

// NewAdminHandler creates an admin handler over the reconciler and the
// per-store stats sources.
func NewAdminHandler(reconciler CacheRebuilder, stats []StatsFunc, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		BaseHandler: NewBaseHandler(logger),
		reconciler:  reconciler,
		stats:       stats,
	}
}

// RebuildResponse acknowledges an accepted rebuild.
type RebuildResponse struct {
	Status string `json:"status"`
}

// Rebuild handles POST /api/v1/admin/cache/rebuild. The rebuild runs in the
// background; the request returns as soon as it is accepted.
func (h *AdminHandler) Rebuild(c *gin.Context) {
	if h.reconciler.Running() {
		h.Error(c, dto.ErrCodeConflict, "a cache rebuild is already running")
		return
	}

	go func() {
		// Detached from the request; the rebuild outlives the caller.
		if err := h.reconciler.Rebuild(context.Background()); err != nil {
			h.logger.Warn("background rebuild failed", zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(RebuildResponse{Status: "accepted"}))
}

// CacheStatsResponse is the payload of the stats endpoint.
type CacheStatsResponse struct {
	Stores     []cache.Stats              `json:"stores"`
	Rebuilding bool                       `json:"rebuilding"`
	LastReport *appmarket.ReconcileReport `json:"last_report,omitempty"`
}

// Stats handles GET /api/v1/admin/cache/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stores := make([]cache.Stats, 0, len(h.stats))
	for _, fn := range h.stats {
		stores = append(stores, fn())
	}

	h.Success(c, CacheStatsResponse{
		Stores:     stores,
		Rebuilding: h.reconciler.Running(),
		LastReport: h.reconciler.LastReport(),
	})
}
