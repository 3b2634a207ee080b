package session

import (
	"encoding/json"

	"github.com/openrooms/orc-server/internal/v1/core"
)

// Client-to-server frame types.
const (
	frameHello = "hello"
	frameAck   = "ack"
	framePong  = "pong"
)

// Server-to-client control frame types. Domain events carry their own
// "event.*" discriminators from the events package.
const (
	frameReady = "ready"
	framePing  = "ping"
	frameError = "error"
)

// inboundFrame is the superset of every client frame; Type selects which
// fields are meaningful.
type inboundFrame struct {
	Type string `json:"type"`

	// hello
	Subscriptions *subscriptionsFrame `json:"subscriptions,omitempty"`
	Want          []string            `json:"want,omitempty"`

	// hello and ack both carry cursor advances
	Cursors map[string]uint64 `json:"cursors,omitempty"`

	// pong
	TS json.RawMessage `json:"ts,omitempty"`
}

type subscriptionsFrame struct {
	Rooms []string `json:"rooms"`
	DMs   bool     `json:"dms"`
}

// readyFrame is emitted on open and re-emitted after hello.
type readyFrame struct {
	Type         string                  `json:"type"`
	SessionID    string                  `json:"session_id"`
	HeartbeatMs  int                     `json:"heartbeat_ms"`
	ServerTime   string                  `json:"server_time"`
	Capabilities core.CapabilityResponse `json:"capabilities"`
}

type pingFrame struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
