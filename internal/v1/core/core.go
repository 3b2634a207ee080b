// Package core is the operation orchestrator: the thin layer the HTTP
// handlers and realtime sessions call into. Every operation follows the
// same template: authorize, validate, mutate, publish. Publication happens
// strictly after the mutation committed, and a per-stream publish lock
// keeps hub order aligned with sequence order.
package core

import (
	"context"
	"time"

	"sync"

	"github.com/openrooms/orc-server/internal/v1/config"
	"github.com/openrooms/orc-server/internal/v1/entity"
	"github.com/openrooms/orc-server/internal/v1/events"
	"github.com/openrooms/orc-server/internal/v1/hub"
	"github.com/openrooms/orc-server/internal/v1/identity"
	"github.com/openrooms/orc-server/internal/v1/metrics"
	"github.com/openrooms/orc-server/internal/v1/stream"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// Core composes the stores, the stream engine and the hub. One Core value
// is instantiated at process start and passed explicitly to the transport
// layers.
type Core struct {
	cfg      *config.Config
	identity *identity.Store
	entities *entity.Store
	streams  *stream.Engine
	hub      *hub.Hub

	// publishMu serializes mutate+publish per stream so observers never
	// see seq N+1 before seq N.
	publishMu sync.Map // types.StreamKey -> *sync.Mutex
}

// New wires a Core from its parts.
func New(cfg *config.Config) *Core {
	return &Core{
		cfg:      cfg,
		identity: identity.NewStore(time.Duration(cfg.TicketTTLMs) * time.Millisecond),
		entities: entity.NewStore(cfg.MaxUploadBytes),
		streams:  stream.NewEngine(cfg.MaxMessageBytes, cfg.MaxReactionsPerMessage),
		hub:      hub.New(),
	}
}

// Hub exposes the subscription hub to the session layer.
func (c *Core) Hub() *hub.Hub {
	return c.hub
}

// Entities exposes the entity store (read paths of the session layer).
func (c *Core) Entities() *entity.Store {
	return c.entities
}

// Streams exposes the stream engine (cursor reads of the session layer).
func (c *Core) Streams() *stream.Engine {
	return c.streams
}

// Config exposes the validated configuration.
func (c *Core) Config() *config.Config {
	return c.cfg
}

func (c *Core) streamLock(key types.StreamKey) *sync.Mutex {
	v, _ := c.publishMu.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (c *Core) observe(op string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// --- Capabilities ---

// Limits is the protocol-limit block of the capability response.
type Limits struct {
	MaxMessageBytes        int   `json:"max_message_bytes"`
	MaxUploadBytes         int64 `json:"max_upload_bytes"`
	MaxReactionsPerMessage int   `json:"max_reactions_per_message"`
	HeartbeatMs            int   `json:"heartbeat_ms"`
	TicketTTLMs            int   `json:"ticket_ttl_ms"`
}

// CapabilityResponse is served on /meta/capabilities and echoed inside the
// realtime ready frame.
type CapabilityResponse struct {
	Server       string   `json:"server"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Limits       Limits   `json:"limits"`
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Capabilities reports what this deployment supports.
func (c *Core) Capabilities() CapabilityResponse {
	return CapabilityResponse{
		Server:  "orc",
		Version: Version,
		Capabilities: []string{
			"messages", "dms", "reactions", "uploads",
			"typing", "presence", "pins", "cursors",
		},
		Limits: Limits{
			MaxMessageBytes:        c.cfg.MaxMessageBytes,
			MaxUploadBytes:         c.cfg.MaxUploadBytes,
			MaxReactionsPerMessage: c.cfg.MaxReactionsPerMessage,
			HeartbeatMs:            c.cfg.HeartbeatMs,
			TicketTTLMs:            c.cfg.TicketTTLMs,
		},
	}
}

// --- Identity ---

// GuestLogin creates or looks up a guest user and issues a fresh token.
func (c *Core) GuestLogin(ctx context.Context, username string) (string, types.User, error) {
	defer c.observe("auth.guest", time.Now())

	user, err := c.entities.EnsureGuestUser(username)
	if err != nil {
		return "", types.User{}, err
	}
	token := c.identity.IssueToken(user.UserID)
	return token, user, nil
}

// MintTicket records a single-use RTM ticket for the user.
func (c *Core) MintTicket(userID types.UserIDType) (string, int64) {
	return c.identity.MintTicket(userID)
}

// ConsumeTicket resolves and burns an RTM ticket.
func (c *Core) ConsumeTicket(ticket string) (types.User, bool) {
	userID, ok := c.identity.ConsumeTicket(ticket)
	if !ok {
		return types.User{}, false
	}
	return c.entities.GetUser(userID)
}

// Resolve maps an access token to its user; used by the auth middleware
// and the bearer fallback on WS upgrade.
func (c *Core) Resolve(token string) (types.User, bool) {
	userID, ok := c.identity.Resolve(token)
	if !ok {
		return types.User{}, false
	}
	return c.entities.GetUser(userID)
}

// Revoke invalidates an access token.
func (c *Core) Revoke(token string) {
	c.identity.Revoke(token)
}

// --- Presence ---

// SessionOpened registers presence for a connecting session and announces
// the user online when it is their first.
func (c *Core) SessionOpened(ctx context.Context, sub types.Subscriber) {
	if c.hub.Register(sub) {
		c.hub.Publish(ctx, events.NewPresence(sub.UserID(), true))
	}
}

// SessionClosed detaches the session and announces the user offline when
// it was their last.
func (c *Core) SessionClosed(ctx context.Context, sub types.Subscriber) {
	if c.hub.Detach(sub) {
		c.hub.Publish(ctx, events.NewPresence(sub.UserID(), false))
	}
}
