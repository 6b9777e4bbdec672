package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/edukita/center-ops-api/internal/middleware"
	"github.com/edukita/center-ops-api/internal/models"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
)

// claimsFromContext extracts the authenticated claims set by the JWT
// middleware.
func claimsFromContext(c *gin.Context) (*models.JWTClaims, error) {
	value, exists := c.Get(middleware.ClaimsContextKey)
	if !exists {
		return nil, appErrors.ErrUnauthorized
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}
