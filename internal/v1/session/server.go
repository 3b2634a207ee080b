package session

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openrooms/orc-server/internal/v1/core"
	"github.com/openrooms/orc-server/internal/v1/logging"
	"github.com/openrooms/orc-server/internal/v1/ratelimit"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// Server upgrades HTTP requests on /rtm into realtime sessions.
type Server struct {
	core    *core.Core
	limiter *ratelimit.RateLimiter
}

// NewServer creates the upgrade handler. limiter may be nil in tests.
func NewServer(c *core.Core, limiter *ratelimit.RateLimiter) *Server {
	return &Server{core: c, limiter: limiter}
}

// credentialResult carries the authenticated user plus the subprotocol to
// echo when the credential arrived via Sec-WebSocket-Protocol.
type credentialResult struct {
	user        types.User
	subprotocol string
}

// ServeRTM authenticates the upgrade request and starts the session pumps.
func (s *Server) ServeRTM(c *gin.Context) {
	if s.limiter != nil && !s.limiter.CheckWebSocket(c) {
		return
	}

	// The origin check runs before any credential is consumed; a rejected
	// upgrade leaves its single-use ticket intact.
	allowedOrigins := s.core.Config().OriginAllowlist()
	if !s.core.Config().DevelopmentMode() {
		if err := validateOrigin(c.Request, allowedOrigins); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": gin.H{
				"code": "forbidden", "message": "origin not allowed",
			}})
			return
		}
	}

	cred, err := s.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
			"code": "unauthorized", "message": err.Error(),
		}})
		return
	}

	conn, err := s.upgrade(c, allowedOrigins, cred)
	if err != nil {
		return
	}

	logging.Info(c.Request.Context(), "Realtime session opened",
		zap.String("userId", string(cred.user.UserID)))

	sess := newSession(conn, s.core, cred.user)
	sess.start(c.Request.Context())
}

// authenticate resolves exactly one credential, in preference order:
// single-use ticket in the query string, ticket or bearer token in the
// Sec-WebSocket-Protocol header, then an Authorization header for
// non-browser clients.
func (s *Server) authenticate(c *gin.Context) (credentialResult, error) {
	if ticket := c.Query("ticket"); ticket != "" {
		user, ok := s.core.ConsumeTicket(ticket)
		if !ok {
			return credentialResult{}, fmt.Errorf("invalid or expired ticket")
		}
		return credentialResult{user: user}, nil
	}

	if header := c.GetHeader("Sec-WebSocket-Protocol"); header != "" {
		for _, part := range strings.Split(header, ",") {
			part = strings.TrimSpace(part)
			switch {
			case strings.HasPrefix(part, "ticket."):
				user, ok := s.core.ConsumeTicket(strings.TrimPrefix(part, "ticket."))
				if !ok {
					return credentialResult{}, fmt.Errorf("invalid or expired ticket")
				}
				return credentialResult{user: user, subprotocol: part}, nil
			case strings.HasPrefix(part, "bearer."):
				user, ok := s.core.Resolve(strings.TrimPrefix(part, "bearer."))
				if !ok {
					return credentialResult{}, fmt.Errorf("invalid or expired token")
				}
				return credentialResult{user: user, subprotocol: part}, nil
			}
		}
	}

	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		user, ok := s.core.Resolve(strings.TrimSpace(header[len("Bearer "):]))
		if !ok {
			return credentialResult{}, fmt.Errorf("invalid or expired token")
		}
		return credentialResult{user: user}, nil
	}

	return credentialResult{}, fmt.Errorf("no credential provided")
}

// validateOrigin checks the request origin against the allowlist. An empty
// Origin header passes (non-browser client).
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgrade performs the WebSocket upgrade, echoing the credential
// subprotocol when one was negotiated.
func (s *Server) upgrade(c *gin.Context, allowedOrigins []string, cred credentialResult) (wsConnection, error) {
	devMode := s.core.Config().DevelopmentMode()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return devMode || validateOrigin(r, allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	responseHeader := http.Header{}
	if cred.subprotocol != "" {
		responseHeader.Set("Sec-WebSocket-Protocol", cred.subprotocol)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}
