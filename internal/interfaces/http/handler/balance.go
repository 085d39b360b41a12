package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/market"
)

// BalanceReader is the slice of the balance service the handler needs.
type BalanceReader interface {
	GetBalances(ctx context.Context, holder string) (market.HolderBalances, error)
}

// BalanceHandler serves the per-holder balance endpoint.
type BalanceHandler struct {
	BaseHandler
	balances BalanceReader
}

// NewBalanceHandler creates a balance handler.
func NewBalanceHandler(balances BalanceReader, logger *zap.Logger) *BalanceHandler {
	return &BalanceHandler{
		BaseHandler: NewBaseHandler(logger),
		balances:    balances,
	}
}

// Get handles GET /api/v1/balances/:holder
func (h *BalanceHandler) Get(c *gin.Context) {
	balances, err := h.balances.GetBalances(c.Request.Context(), c.Param("holder"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, balances)
}
