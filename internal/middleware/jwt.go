package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edukita/center-ops-api/internal/models"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
	"github.com/edukita/center-ops-api/pkg/response"
)

// ClaimsContextKey is where authenticated claims live in the gin context.
const ClaimsContextKey = "claims"

// TokenParser validates a bearer token into claims.
type TokenParser interface {
	ParseToken(token string) (*models.JWTClaims, error)
}

// JWT authenticates requests via the Authorization bearer header and stores
// the parsed claims in the context.
func JWT(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing authorization header"))
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := parser.ParseToken(parts[1])
		if err != nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ClaimsContextKey, claims)
		c.Next()
	}
}
