package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/middleware"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// writeError maps a tagged error onto the wire shape
// {error:{code,message,details?}}.
func writeError(c *gin.Context, err error) {
	e := apierr.From(err)
	c.JSON(e.HTTPStatus(), gin.H{"error": e})
}

// bindJSON decodes the request body, surfacing malformed JSON as
// bad_request instead of gin's default plain 400.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		writeError(c, apierr.BadRequest("malformed request body: %v", err))
		return false
	}
	return true
}

// caller returns the authenticated user; the auth middleware guarantees
// presence on protected routes.
func caller(c *gin.Context) types.User {
	user, _ := middleware.CurrentUser(c)
	return user
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
