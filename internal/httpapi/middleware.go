package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/patchline/relay/internal/auth"
	apierrors "github.com/patchline/relay/pkg/errors"
)

const claimsClientIDKey = "relay.clientID"

// requireAuth validates the Authorization: Bearer <token> header against
// authn and stores the resulting client id in the gin context. Mirrors the
// teacher's JWTAuthMiddleware shape, generalized behind the auth.Authenticator
// port so a non-JWT authenticator can be swapped in without touching routes.
func requireAuth(authn auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			abortUnauthorized(c)
			return
		}

		clientID, err := authn.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(claimsClientIDKey, clientID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	apiErr := apierrors.Unauthorized("missing or invalid bearer token")
	c.AbortWithStatusJSON(apiErr.HTTPStatus, apiErr)
}

// requireAdminToken gates /controller/clear?admin_mode=true behind a static
// bearer token distinct from the per-controller JWTs — admin reset is an
// operator action, not something any registered controller can invoke.
func requireAdminToken(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if adminToken == "" || len(parts) != 2 || parts[0] != "Bearer" || parts[1] != adminToken {
			abortUnauthorized(c)
			return
		}
		c.Next()
	}
}
