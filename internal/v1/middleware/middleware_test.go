package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrooms/orc-server/internal/v1/types"
)

type staticResolver map[string]types.User

func (r staticResolver) Resolve(token string) (types.User, bool) {
	user, ok := r[token]
	return user, ok
}

func authedRouter(resolver TokenResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", BearerAuth(resolver), func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": user.UserID})
	})
	return router
}

func TestBearerAuthAcceptsKnownToken(t *testing.T) {
	resolver := staticResolver{
		"good-token": {UserID: "aliceaaaaaaaaaaaaaaaaaaaaa", DisplayName: "alice"},
	}
	router := authedRouter(resolver)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aliceaaaaaaaaaaaaaaaaaaaaa")
}

func TestBearerAuthRejections(t *testing.T) {
	router := authedRouter(staticResolver{})

	cases := map[string]string{
		"no header":      "",
		"wrong scheme":   "Basic Zm9vOmJhcg==",
		"empty token":    "Bearer ",
		"unknown token":  "Bearer nope",
		"missing prefix": "good-token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "unauthorized")
		})
	}
}

func TestCurrentUserWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := CurrentUser(c)
	assert.False(t, ok)
}

func TestCorrelationIDGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, w.Header().Get(HeaderXCorrelationID))
}

func TestCorrelationIDEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXCorrelationID, "req-1234")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-1234", w.Header().Get(HeaderXCorrelationID))
}
