package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/edupanel/identity-api/internal/models"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
	"github.com/edupanel/identity-api/pkg/response"
)

// RequireRoles enforces role-based access control for routes. The caller's
// role comes from the JWT claims placed in the context by the JWT middleware.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "You do not have permission to perform this action."))
			c.Abort()
			return
		}

		c.Next()
	}
}
