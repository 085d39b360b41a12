package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/interfaces/http/dto"
)

// Probe checks one dependency for the readiness endpoint.
type Probe func(ctx context.Context) error

// SystemHandler serves the liveness and readiness endpoints.
type SystemHandler struct {
	BaseHandler
	probes map[string]Probe
}

// NewSystemHandler creates a system handler over the named dependency probes.
func NewSystemHandler(probes map[string]Probe, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		BaseHandler: NewBaseHandler(logger),
		probes:      probes,
	}
}

// Health handles GET /healthz. Answers as long as the process is up.
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(gin.H{"status": "ok"}))
}

// Ready handles GET /readyz. Reports 503 when any dependency fails its
// probe; per-dependency status is included either way.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := h.probes[name](ctx); err != nil {
			h.logger.Warn("readiness probe failed",
				zap.String("dependency", name),
				zap.Error(err))
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, dto.NewSuccessResponse(gin.H{
		"ready":        ready,
		"dependencies": status,
	}))
}
