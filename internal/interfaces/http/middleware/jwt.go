package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chainmirror/backend/internal/infrastructure/auth"
	"github.com/chainmirror/backend/internal/infrastructure/logger"
	"github.com/chainmirror/backend/internal/interfaces/http/dto"
)

// Context keys set by AdminAuth.
const (
	AdminSubjectKey = "admin_subject"
	AuthHeaderKey   = "Authorization"
	BearerPrefix    = "Bearer "
)

// AdminAuth requires a valid admin bearer token. Applied only to the
// cache-management routes; the read API stays open.
func AdminAuth(tokens *auth.AdminTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(header, BearerPrefix) {
			unauthorized(c, "missing bearer token")
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		c.Set(AdminSubjectKey, claims.Subject)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	requestID := logger.GetRequestID(c.Request.Context())
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, message, requestID))
}
