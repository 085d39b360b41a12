package handler

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/interfaces/http/dto"
)

// AssetReader is the slice of the asset service the handler needs.
type AssetReader interface {
	Get(ctx context.Context, seriesID uint64) (market.Asset, error)
	ListActive(ctx context.Context) ([]market.Asset, error)
	GetByTokenAddress(ctx context.Context, tokenAddress string) (market.Asset, error)
}

// AssetHandler serves the asset read endpoints.
type AssetHandler struct {
	BaseHandler
	assets AssetReader
}

// NewAssetHandler creates an asset handler.
func NewAssetHandler(assets AssetReader, logger *zap.Logger) *AssetHandler {
	return &AssetHandler{
		BaseHandler: NewBaseHandler(logger),
		assets:      assets,
	}
}

// List handles GET /api/v1/assets
func (h *AssetHandler) List(c *gin.Context) {
	assets, err := h.assets.ListActive(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.BaseHandler.List(c, assets, len(assets))
}

// Get handles GET /api/v1/assets/:contract/:seriesId
func (h *AssetHandler) Get(c *gin.Context) {
	contract := c.Param("contract")
	if !common.IsHexAddress(contract) {
		h.Error(c, dto.ErrCodeInvalidInput, "invalid contract address")
		return
	}

	seriesID, err := strconv.ParseUint(c.Param("seriesId"), 10, 64)
	if err != nil {
		h.Error(c, dto.ErrCodeInvalidInput, "invalid series id")
		return
	}

	asset, err := h.assets.Get(c.Request.Context(), seriesID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// The cache is keyed per registry contract; a mismatched contract in the
	// path must not leak another contract's series.
	if asset.Contract != common.HexToAddress(contract).Hex() {
		h.Error(c, dto.ErrCodeNotFound, "asset not found")
		return
	}

	h.Success(c, asset)
}

// GetByToken handles GET /api/v1/assets/by-token/:address
func (h *AssetHandler) GetByToken(c *gin.Context) {
	asset, err := h.assets.GetByTokenAddress(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, asset)
}
