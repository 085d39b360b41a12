package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appmarket "github.com/chainmirror/backend/internal/application/market"
	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/infrastructure/auth"
	"github.com/chainmirror/backend/internal/infrastructure/config"
	"github.com/chainmirror/backend/internal/interfaces/http/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAssets struct{}

func (stubAssets) Get(context.Context, uint64) (market.Asset, error) {
	return market.Asset{Contract: "0x1111111111111111111111111111111111111111", SeriesID: 1, IsActive: true}, nil
}
func (stubAssets) ListActive(context.Context) ([]market.Asset, error) { return nil, nil }
func (stubAssets) GetByTokenAddress(context.Context, string) (market.Asset, error) {
	return market.Asset{}, nil
}

type stubListings struct{}

func (stubListings) Get(context.Context, uint64) (market.Listing, error) {
	return market.Listing{ListingID: 1, IsActive: true}, nil
}
func (stubListings) ListOpen(context.Context) ([]market.Listing, error) { return nil, nil }

type stubBalances struct{}

func (stubBalances) GetBalances(_ context.Context, holder string) (market.HolderBalances, error) {
	return market.HolderBalances{Holder: holder}, nil
}

type stubReconciler struct{}

func (stubReconciler) Rebuild(context.Context) error          { return nil }
func (stubReconciler) Running() bool                          { return false }
func (stubReconciler) LastReport() *appmarket.ReconcileReport { return nil }

func testEngine(t *testing.T) (*gin.Engine, *auth.AdminTokenService) {
	t.Helper()
	logger := zap.NewNop()
	tokens := auth.NewAdminTokenService(config.AdminConfig{
		JWTSecret: "router-test-secret",
		Issuer:    "chainmirror-test",
	})

	handlers := Handlers{
		Assets:   handler.NewAssetHandler(stubAssets{}, logger),
		Listings: handler.NewListingHandler(stubListings{}, logger),
		Balances: handler.NewBalanceHandler(stubBalances{}, logger),
		Admin:    handler.NewAdminHandler(stubReconciler{}, nil, logger),
		System: handler.NewSystemHandler(map[string]handler.Probe{
			"database": func(context.Context) error { return nil },
		}, logger),
	}

	engine := Setup(config.HTTPConfig{AllowOrigins: []string{"*"}}, "test", handlers, tokens, nil, nil, logger)
	return engine, tokens
}

func TestRouter_ReadRoutesMounted(t *testing.T) {
	engine, _ := testEngine(t)

	for _, path := range []string{
		"/healthz",
		"/readyz",
		"/api/v1/assets",
		"/api/v1/assets/0x1111111111111111111111111111111111111111/1",
		"/api/v1/assets/by-token/0x2222222222222222222222222222222222222222",
		"/api/v1/listings",
		"/api/v1/listings/1",
		"/api/v1/balances/0x3333333333333333333333333333333333333333",
	} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouter_AdminRequiresToken(t *testing.T) {
	engine, _ := testEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cache/rebuild", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_AdminAcceptsValidToken(t *testing.T) {
	engine, tokens := testEngine(t)

	token, err := tokens.GenerateToken("ops", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RequestIDHeaderSet(t *testing.T) {
	engine, _ := testEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
