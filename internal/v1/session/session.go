// Package session owns the realtime side of the server: the WebSocket
// upgrade, the per-connection read/write pumps, the heartbeat, and the
// bridge between client frames and the orchestrator. One Session is one
// socket; a user may hold several concurrently.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openrooms/orc-server/internal/v1/core"
	"github.com/openrooms/orc-server/internal/v1/hub"
	"github.com/openrooms/orc-server/internal/v1/ids"
	"github.com/openrooms/orc-server/internal/v1/logging"
	"github.com/openrooms/orc-server/internal/v1/metrics"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const (
	// outboundBuffer bounds the per-session send queue. Overflow marks the
	// session a slow consumer and it is torn down.
	outboundBuffer = 256

	// maxMissedPongs closes the connection after this many unanswered pings.
	maxMissedPongs = 2

	writeWait = 10 * time.Second
)

// Session is a single live WebSocket connection. It implements
// types.Subscriber for the hub.
type Session struct {
	conn wsConnection
	core *core.Core
	id   string
	user types.User

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	missedPongs atomic.Int32
	heartbeat   time.Duration
}

// newSession wires a session around an upgraded connection.
func newSession(conn wsConnection, c *core.Core, user types.User) *Session {
	return &Session{
		conn:      conn,
		core:      c,
		id:        ids.NewEntityID(),
		user:      user,
		send:      make(chan []byte, outboundBuffer),
		done:      make(chan struct{}),
		heartbeat: time.Duration(c.Config().HeartbeatMs) * time.Millisecond,
	}
}

// SessionID satisfies types.Subscriber.
func (s *Session) SessionID() string {
	return s.id
}

// UserID satisfies types.Subscriber.
func (s *Session) UserID() types.UserIDType {
	return s.user.UserID
}

// Deliver enqueues a frame without blocking. It reports false when the
// session is closed or its outbound buffer is full; the hub then schedules
// CloseSlow.
func (s *Session) Deliver(frame any) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal outbound frame",
			zap.String("sessionId", s.id), zap.Error(err))
		return true
	}

	select {
	case s.send <- data:
		return true
	default:
		metrics.SlowConsumerCloses.Inc()
		return false
	}
}

// CloseSlow tears the session down after a delivery failure. Idempotent.
func (s *Session) CloseSlow() {
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// start registers presence and launches the pumps.
func (s *Session) start(ctx context.Context) {
	metrics.IncSession()
	s.core.SessionOpened(ctx, s)
	s.sendReady()

	go s.writePump()
	go s.readPump()
}

// readPump consumes client frames until the socket dies, then unwinds
// presence and subscriptions.
func (s *Session) readPump() {
	ctx := context.WithValue(context.Background(), logging.SessionIDKey, s.id)
	ctx = context.WithValue(ctx, logging.UserIDKey, string(s.user.UserID))

	defer func() {
		s.core.SessionClosed(ctx, s)
		s.close()
		metrics.DecSession()
	}()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("bad_request", "malformed frame")
			continue
		}

		switch frame.Type {
		case frameHello:
			s.handleHello(ctx, frame)
		case frameAck:
			s.applyCursors(ctx, frame.Cursors)
		case framePong:
			s.missedPongs.Store(0)
		default:
			s.sendError("bad_request", "unknown frame type: "+frame.Type)
		}
	}
}

// writePump owns every socket write: queued frames plus the heartbeat.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.heartbeat)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			ping, _ := json.Marshal(pingFrame{Type: framePing, TS: ids.FormatTS(time.Now())})
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
			// The increment happens on the tick, so the session goes terminal
			// on the tick that makes the second consecutive miss.
			if s.missedPongs.Add(1) >= maxMissedPongs {
				metrics.HeartbeatCloses.Inc()
				logging.Info(context.Background(), "Closing session after missed pongs",
					zap.String("sessionId", s.id))
				return
			}
		}
	}
}

// handleHello replaces the session's subscription set and re-emits ready.
// Room keys the user may not see are skipped rather than failing the whole
// frame.
func (s *Session) handleHello(ctx context.Context, frame inboundFrame) {
	subs := hub.Subscriptions{Rooms: make(map[types.RoomIDType]struct{})}
	if frame.Subscriptions != nil {
		subs.DMs = frame.Subscriptions.DMs
		for _, key := range frame.Subscriptions.Rooms {
			room, err := s.core.GetRoom(key, s.user.UserID)
			if err != nil {
				logging.Warn(ctx, "Skipping unresolvable room subscription",
					zap.String("roomKey", key), zap.Error(err))
				continue
			}
			subs.Rooms[room.RoomID] = struct{}{}
		}
	}

	s.core.Hub().Attach(s, subs)
	s.applyCursors(ctx, frame.Cursors)
	s.sendReady()
}

// applyCursors advances read cursors from a hello or ack frame. Keys are
// "room:<key>" or "dm:<user_id>".
func (s *Session) applyCursors(ctx context.Context, cursors map[string]uint64) {
	for key, seq := range cursors {
		var err error
		switch {
		case strings.HasPrefix(key, "room:"):
			err = s.core.AckRoom(ctx, s.user.UserID, strings.TrimPrefix(key, "room:"), seq)
		case strings.HasPrefix(key, "dm:"):
			err = s.core.AckDM(ctx, s.user.UserID, types.UserIDType(strings.TrimPrefix(key, "dm:")), seq)
		default:
			s.sendError("bad_request", "unknown cursor key: "+key)
			continue
		}
		if err != nil {
			logging.Warn(ctx, "Cursor advance rejected",
				zap.String("cursorKey", key), zap.Uint64("seq", seq), zap.Error(err))
		}
	}
}

func (s *Session) sendReady() {
	s.enqueueControl(readyFrame{
		Type:         frameReady,
		SessionID:    s.id,
		HeartbeatMs:  s.core.Config().HeartbeatMs,
		ServerTime:   ids.FormatTS(time.Now()),
		Capabilities: s.core.Capabilities(),
	})
}

func (s *Session) sendError(code, message string) {
	s.enqueueControl(errorFrame{Type: frameError, Code: code, Message: message})
}

// enqueueControl routes control frames through the same bounded queue as
// events so writes stay serialized on the write pump.
func (s *Session) enqueueControl(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case <-s.done:
	case s.send <- data:
	default:
	}
}
