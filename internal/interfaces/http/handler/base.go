// Package handler contains the gin HTTP handlers for the read API and the
// administrative cache-management endpoints.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainmirror/backend/internal/domain/shared"
	"github.com/chainmirror/backend/internal/infrastructure/logger"
	"github.com/chainmirror/backend/internal/interfaces/http/dto"
)

// BaseHandler provides the response helpers shared by all handlers.
type BaseHandler struct {
	logger *zap.Logger
}

// NewBaseHandler creates a base handler with the given logger.
func NewBaseHandler(logger *zap.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// Success writes a 200 response with the standard envelope.
func (h BaseHandler) Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// List writes a 200 response carrying a collection and its total.
func (h BaseHandler) List(c *gin.Context, data interface{}, total int) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, total))
}

// Error writes an error response for the given wire code.
func (h BaseHandler) Error(c *gin.Context, code, message string) {
	requestID := logger.GetRequestID(c.Request.Context())
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, requestID))
}

// HandleError maps a service error onto the wire. Domain errors keep their
// code; anything else is reported as internal without leaking detail.
func (h BaseHandler) HandleError(c *gin.Context, err error) {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		h.Error(c, code, domainErr.Message)
		return
	}

	h.logger.Error("unhandled error",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	h.Error(c, dto.ErrCodeInternal, "Internal server error")
}
