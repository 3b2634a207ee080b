// Package hub indexes live WebSocket sessions by room and by DM user and
// fans enveloped events out to the right sockets. Index mutation happens
// under one lock; fan-out traverses a snapshot so a slow socket never
// holds the lock.
package hub

import (
	"context"

	"sync"

	"go.uber.org/zap"

	"github.com/openrooms/orc-server/internal/v1/events"
	"github.com/openrooms/orc-server/internal/v1/logging"
	"github.com/openrooms/orc-server/internal/v1/metrics"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// Subscriptions names the scopes a session wants fan-out for.
type Subscriptions struct {
	Rooms map[types.RoomIDType]struct{}
	DMs   bool
}

// Hub is the subscription hub.
type Hub struct {
	mu       sync.RWMutex
	byRoom   map[types.RoomIDType]map[types.Subscriber]struct{}
	byDMUser map[types.UserIDType]map[types.Subscriber]struct{}
	all      map[types.Subscriber]struct{}

	// roomsOf tracks each session's room set so Attach can drop rooms no
	// longer in the requested set.
	roomsOf map[types.Subscriber]map[types.RoomIDType]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		byRoom:   make(map[types.RoomIDType]map[types.Subscriber]struct{}),
		byDMUser: make(map[types.UserIDType]map[types.Subscriber]struct{}),
		all:      make(map[types.Subscriber]struct{}),
		roomsOf:  make(map[types.Subscriber]map[types.RoomIDType]struct{}),
	}
}

// Register adds the session to the global index before it has sent hello,
// so it already receives global-scope events. It reports whether this is
// the user's first live session; the determination happens under the index
// lock, so concurrent first sessions resolve to exactly one true.
func (h *Hub) Register(sub types.Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	first := h.countLocked(sub.UserID()) == 0
	h.all[sub] = struct{}{}
	if h.roomsOf[sub] == nil {
		h.roomsOf[sub] = make(map[types.RoomIDType]struct{})
	}
	return first
}

// Attach atomically replaces the session's subscription set. Re-entering
// rooms is idempotent; rooms absent from the new set are dropped.
func (h *Hub) Attach(sub types.Subscriber, subs Subscriptions) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[sub] = struct{}{}

	current := h.roomsOf[sub]
	if current == nil {
		current = make(map[types.RoomIDType]struct{})
		h.roomsOf[sub] = current
	}

	for roomID := range current {
		if _, keep := subs.Rooms[roomID]; !keep {
			h.removeFromRoomLocked(roomID, sub)
			delete(current, roomID)
		}
	}
	for roomID := range subs.Rooms {
		if _, have := current[roomID]; have {
			continue
		}
		if h.byRoom[roomID] == nil {
			h.byRoom[roomID] = make(map[types.Subscriber]struct{})
		}
		h.byRoom[roomID][sub] = struct{}{}
		current[roomID] = struct{}{}
	}

	userID := sub.UserID()
	if subs.DMs {
		if h.byDMUser[userID] == nil {
			h.byDMUser[userID] = make(map[types.Subscriber]struct{})
		}
		h.byDMUser[userID][sub] = struct{}{}
	} else {
		h.removeFromDMLocked(userID, sub)
	}
}

// Detach removes the session from every index. It reports whether the
// user now has no live sessions; a second Detach of the same session
// always reports false.
func (h *Hub) Detach(sub types.Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, wasRegistered := h.all[sub]

	for roomID := range h.roomsOf[sub] {
		h.removeFromRoomLocked(roomID, sub)
	}
	delete(h.roomsOf, sub)
	h.removeFromDMLocked(sub.UserID(), sub)
	delete(h.all, sub)

	return wasRegistered && h.countLocked(sub.UserID()) == 0
}

// SessionsOf returns the number of live sessions for a user.
func (h *Hub) SessionsOf(userID types.UserIDType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked(userID)
}

func (h *Hub) countLocked(userID types.UserIDType) int {
	n := 0
	for sub := range h.all {
		if sub.UserID() == userID {
			n++
		}
	}
	return n
}

// Publish fans the envelope out to every session in its scope. Delivery
// failures tear the failing session down without affecting the others.
func (h *Hub) Publish(ctx context.Context, env events.Envelope) {
	targets := h.snapshot(env.Scope)
	if len(targets) == 0 {
		return
	}

	for _, sub := range targets {
		frame := env.Frame
		if env.FrameFor != nil {
			frame = env.FrameFor(sub.UserID())
		}
		if sub.Deliver(frame) {
			metrics.EventsFanned.WithLabelValues(env.Type).Inc()
			continue
		}
		logging.Warn(ctx, "Dropping session after failed delivery",
			zap.String("sessionId", sub.SessionID()),
			zap.String("eventType", env.Type),
		)
		// Teardown happens off the publish path so one dead socket cannot
		// slow the fan-out.
		go sub.CloseSlow()
	}
}

// snapshot resolves the scope to a stable target list under the read lock.
func (h *Hub) snapshot(scope events.Scope) []types.Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []types.Subscriber
	seen := make(map[types.Subscriber]struct{})

	add := func(set map[types.Subscriber]struct{}) {
		for sub := range set {
			if _, dup := seen[sub]; !dup {
				seen[sub] = struct{}{}
				out = append(out, sub)
			}
		}
	}

	switch {
	case scope.RoomID != "":
		add(h.byRoom[scope.RoomID])
	case scope.DMA != "" || scope.DMB != "":
		add(h.byDMUser[scope.DMA])
		add(h.byDMUser[scope.DMB])
	default:
		add(h.all)
	}
	return out
}

func (h *Hub) removeFromRoomLocked(roomID types.RoomIDType, sub types.Subscriber) {
	if set := h.byRoom[roomID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.byRoom, roomID)
		}
	}
}

func (h *Hub) removeFromDMLocked(userID types.UserIDType, sub types.Subscriber) {
	if set := h.byDMUser[userID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.byDMUser, userID)
		}
	}
}
