// Package httpapi declares the HTTP surface of the server: route wiring
// plus the handlers that translate between the wire and the orchestrator.
package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openrooms/orc-server/internal/v1/core"
	"github.com/openrooms/orc-server/internal/v1/health"
	"github.com/openrooms/orc-server/internal/v1/middleware"
	"github.com/openrooms/orc-server/internal/v1/ratelimit"
	"github.com/openrooms/orc-server/internal/v1/session"
)

// Handlers binds the HTTP handlers to the orchestrator.
type Handlers struct {
	core *core.Core
}

// NewHandlers creates the handler set.
func NewHandlers(c *core.Core) *Handlers {
	return &Handlers{core: c}
}

// NewRouter wires the full route table. limiter and healthHandler may be
// nil in tests; rtm serves the WebSocket upgrade.
func NewRouter(c *core.Core, limiter *ratelimit.RateLimiter, rtm *session.Server, healthHandler *health.Handler) *gin.Engine {
	h := NewHandlers(c)

	if !c.Config().DevelopmentMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if c.Config().OTLPEndpoint != "" {
		router.Use(otelgin.Middleware("orc-server"))
	}

	corsConfig := cors.DefaultConfig()
	if origins := c.Config().OriginAllowlist(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	// Public surface: discovery, guest login, content-addressed media.
	public := router.Group("/")
	if limiter != nil {
		public.Use(limiter.GlobalMiddleware())
	}
	{
		public.GET("/meta/capabilities", h.Capabilities)
		public.POST("/auth/guest", h.GuestLogin)
		public.GET("/media/:cid", h.GetMedia)
		public.HEAD("/media/:cid", h.HeadMedia)
	}

	// Authenticated surface.
	api := router.Group("/")
	api.Use(middleware.BearerAuth(c))
	if limiter != nil {
		api.Use(limiter.GlobalMiddleware())
	}
	{
		api.POST("/auth/logout", h.Logout)
		api.POST("/rtm/ticket", h.MintTicket)

		api.GET("/users/me", h.Me)
		api.PATCH("/users/me", h.UpdateMe)
		api.GET("/directory/users", h.SearchUsers)
		api.GET("/directory/rooms", h.SearchRooms)

		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:key", h.GetRoom)
		api.PATCH("/rooms/:key", h.UpdateRoom)
		api.POST("/rooms/:key/join", h.JoinRoom)
		api.POST("/rooms/:key/leave", h.LeaveRoom)
		api.POST("/rooms/:key/invite", h.Invite)
		api.POST("/rooms/:key/kick", h.Kick)
		api.POST("/rooms/:key/bans", h.Ban)
		api.DELETE("/rooms/:key/bans/:user_id", h.Unban)
		api.POST("/rooms/:key/mutes", h.Mute)
		api.DELETE("/rooms/:key/mutes/:user_id", h.Unmute)
		api.POST("/rooms/:key/roles", h.SetRole)
		api.POST("/rooms/:key/pins", h.Pin)
		api.DELETE("/rooms/:key/pins/:message_id", h.Unpin)
		api.POST("/rooms/:key/typing", h.RoomTyping)

		api.GET("/rooms/:key/messages", h.RoomMessages)
		api.GET("/rooms/:key/messages/backfill", h.RoomBackfill)
		api.POST("/rooms/:key/ack", h.RoomAck)
		api.GET("/rooms/:key/cursor", h.RoomCursor)

		api.PATCH("/messages/:id", h.EditMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)
		api.POST("/messages/:id/reactions", h.AddReaction)
		api.DELETE("/messages/:id/reactions", h.RemoveReaction)

		api.GET("/dms/:user_id/messages", h.DMMessages)
		api.GET("/dms/:user_id/messages/backfill", h.DMBackfill)
		api.POST("/dms/:user_id/ack", h.DMAck)
		api.GET("/dms/:user_id/cursor", h.DMCursor)
		api.POST("/dms/:user_id/typing", h.DMTyping)

		api.POST("/uploads", h.Upload)
	}

	// Posting gets the tighter message rate on top of the global one.
	posts := router.Group("/")
	posts.Use(middleware.BearerAuth(c))
	if limiter != nil {
		posts.Use(limiter.GlobalMiddleware(), limiter.MessagesMiddleware())
	}
	{
		posts.POST("/rooms/:key/messages", h.PostRoomMessage)
		posts.POST("/dms/:user_id/messages", h.PostDM)
	}

	router.GET("/rtm", rtm.ServeRTM)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if healthHandler != nil {
		router.GET("/health/live", healthHandler.Liveness)
		router.GET("/health/ready", healthHandler.Readiness)
	}

	return router
}
