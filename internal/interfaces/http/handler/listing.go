package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/market"
	"github.com/chainmirror/backend/internal/interfaces/http/dto"
)

// ListingReader is the slice of the listing service the handler needs.
type ListingReader interface {
	Get(ctx context.Context, listingID uint64) (market.Listing, error)
	ListOpen(ctx context.Context) ([]market.Listing, error)
}

// ListingHandler serves the listing read endpoints.
type ListingHandler struct {
	BaseHandler
	listings ListingReader
}

// NewListingHandler creates a listing handler.
func NewListingHandler(listings ListingReader, logger *zap.Logger) *ListingHandler {
	return &ListingHandler{
		BaseHandler: NewBaseHandler(logger),
		listings:    listings,
	}
}

// List handles GET /api/v1/listings
func (h *ListingHandler) List(c *gin.Context) {
	listings, err := h.listings.ListOpen(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.BaseHandler.List(c, listings, len(listings))
}

// Get handles GET /api/v1/listings/:id
func (h *ListingHandler) Get(c *gin.Context) {
	listingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.Error(c, dto.ErrCodeInvalidInput, "invalid listing id")
		return
	}

	listing, err := h.listings.Get(c.Request.Context(), listingID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, listing)
}
