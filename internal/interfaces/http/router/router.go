// Package router assembles the gin engine: middleware chain, read API,
// admin API, and the health endpoints.
package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/infrastructure/auth"
	"github.com/chainmirror/backend/internal/infrastructure/config"
	"github.com/chainmirror/backend/internal/infrastructure/telemetry"
	"github.com/chainmirror/backend/internal/interfaces/http/handler"
	"github.com/chainmirror/backend/internal/interfaces/http/middleware"
)

// Handlers groups the handlers the router mounts.
type Handlers struct {
	Assets   *handler.AssetHandler
	Listings *handler.ListingHandler
	Balances *handler.BalanceHandler
	Admin    *handler.AdminHandler
	System   *handler.SystemHandler
}

// Setup builds the engine. The read API is open; the admin group sits
// behind the bearer token guard.
func Setup(
	cfg config.HTTPConfig,
	env string,
	handlers Handlers,
	tokens *auth.AdminTokenService,
	meters *telemetry.MeterProvider,
	tracers *telemetry.TracerProvider,
	logger *zap.Logger,
) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if len(cfg.TrustedProxies) > 0 {
		_ = r.SetTrustedProxies(cfg.TrustedProxies)
	}

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID(logger))
	if tracers != nil && tracers.IsEnabled() {
		r.Use(middleware.Tracing(tracers.ServiceName()))
	}
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.CORS(middleware.CORSConfig{AllowOrigins: cfg.AllowOrigins}))
	if meters != nil {
		r.Use(middleware.HTTPMetrics(meters))
	}

	r.GET("/healthz", handlers.System.Health)
	r.GET("/readyz", handlers.System.Ready)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/assets", handlers.Assets.List)
		v1.GET("/assets/by-token/:address", handlers.Assets.GetByToken)
		v1.GET("/assets/:contract/:seriesId", handlers.Assets.Get)

		v1.GET("/listings", handlers.Listings.List)
		v1.GET("/listings/:id", handlers.Listings.Get)

		v1.GET("/balances/:holder", handlers.Balances.Get)
	}

	admin := v1.Group("/admin", middleware.AdminAuth(tokens))
	{
		admin.POST("/cache/rebuild", handlers.Admin.Rebuild)
		admin.GET("/cache/stats", handlers.Admin.Stats)
	}

	return r
}
