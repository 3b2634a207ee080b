package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/logging"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// ContextKeyUser is the gin context key under which BearerAuth stores the
// authenticated user snapshot.
const ContextKeyUser = "orc.user"

// TokenResolver resolves an opaque access token to its user.
type TokenResolver interface {
	Resolve(token string) (types.User, bool)
}

// BearerAuth authenticates requests via `Authorization: Bearer <token>`
// and aborts with 401 when the token is missing or unknown.
func BearerAuth(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		user, ok := resolver.Resolve(token)
		if !ok {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ContextKeyUser, user)
		c.Set(string(logging.UserIDKey), string(user.UserID))
		c.Next()
	}
}

// CurrentUser returns the authenticated user stored by BearerAuth.
func CurrentUser(c *gin.Context) (types.User, bool) {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return types.User{}, false
	}
	user, ok := v.(types.User)
	return user, ok
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	e := apierr.Unauthorized("%s", message)
	c.AbortWithStatusJSON(e.HTTPStatus(), gin.H{"error": e})
}
