// Package events defines the canonical server-to-client event frames and
// the scope the hub routes them by. Frames marshal directly to the wire:
// one JSON object per WebSocket text frame, discriminated by "type".
package events

import (
	"github.com/openrooms/orc-server/internal/v1/types"
)

// Event type discriminators.
const (
	TypeMessageCreate  = "event.message.create"
	TypeMessageEdit    = "event.message.edit"
	TypeMessageDelete  = "event.message.delete"
	TypeReactionAdd    = "event.reaction.add"
	TypeReactionRemove = "event.reaction.remove"
	TypePinAdd         = "event.pin.add"
	TypePinRemove      = "event.pin.remove"
	TypeTyping         = "event.typing"
	TypePresence       = "event.presence"
)

// Scope names the audience of an event: one room, one DM pair, or (when
// both are empty) every live session.
type Scope struct {
	RoomID types.RoomIDType
	DMA    types.UserIDType
	DMB    types.UserIDType
}

// RoomScope targets every session subscribed to the room.
func RoomScope(roomID types.RoomIDType) Scope {
	return Scope{RoomID: roomID}
}

// DMScope targets every DM-enrolled session of either user.
func DMScope(a, b types.UserIDType) Scope {
	return Scope{DMA: a, DMB: b}
}

// GlobalScope targets every live session.
func GlobalScope() Scope {
	return Scope{}
}

// Envelope pairs a wire frame with its routing scope. FrameFor, when set,
// renders the frame for one receiver; the hub uses it for payloads that
// depend on who is reading, such as dm_peer_id.
type Envelope struct {
	Scope    Scope
	Frame    any
	Type     string
	FrameFor func(receiver types.UserIDType) any
}

// dmPeerFor resolves the dm_peer_id a receiver should see: always the
// other member of the pair.
func dmPeerFor(scope Scope, receiver types.UserIDType) types.UserIDType {
	if receiver == scope.DMB {
		return scope.DMA
	}
	return scope.DMB
}

// MessageCreate is fanned out after a successful post.
type MessageCreate struct {
	Type    string        `json:"type"`
	Message types.Message `json:"message"`
}

// MessageEdit is fanned out after a successful edit.
type MessageEdit struct {
	Type    string        `json:"type"`
	Message types.Message `json:"message"`
}

// MessageDelete is fanned out after a tombstone.
type MessageDelete struct {
	Type      string              `json:"type"`
	MessageID types.MessageIDType `json:"message_id"`
	RoomID    types.RoomIDType    `json:"room_id,omitempty"`
	DMPeerID  types.UserIDType    `json:"dm_peer_id,omitempty"`
	TS        string              `json:"ts"`
}

// Reaction carries the full reaction summary for the message after an
// add or remove.
type Reaction struct {
	Type      string                `json:"type"`
	MessageID types.MessageIDType   `json:"message_id"`
	Emoji     string                `json:"emoji"`
	Counts    []types.ReactionCount `json:"counts"`
}

// Pin announces a pin list change.
type Pin struct {
	Type      string              `json:"type"`
	RoomID    types.RoomIDType    `json:"room_id"`
	MessageID types.MessageIDType `json:"message_id"`
}

// Typing announces a typing indicator change.
type Typing struct {
	Type     string           `json:"type"`
	RoomID   types.RoomIDType `json:"room_id,omitempty"`
	DMPeerID types.UserIDType `json:"dm_peer_id,omitempty"`
	UserID   types.UserIDType `json:"user_id"`
	State    string           `json:"state"`
}

// Presence announces a user coming online or going offline.
type Presence struct {
	Type   string           `json:"type"`
	UserID types.UserIDType `json:"user_id"`
	State  string           `json:"state"`
}

// NewMessageCreate builds an enveloped message.create event. DM frames
// render dm_peer_id per receiver.
func NewMessageCreate(scope Scope, msg types.Message) Envelope {
	env := Envelope{Scope: scope, Type: TypeMessageCreate, Frame: MessageCreate{Type: TypeMessageCreate, Message: msg}}
	if scope.RoomID == "" {
		env.FrameFor = func(receiver types.UserIDType) any {
			m := msg
			m.DMPeerID = dmPeerFor(scope, receiver)
			return MessageCreate{Type: TypeMessageCreate, Message: m}
		}
	}
	return env
}

// NewMessageEdit builds an enveloped message.edit event. DM frames render
// dm_peer_id per receiver.
func NewMessageEdit(scope Scope, msg types.Message) Envelope {
	env := Envelope{Scope: scope, Type: TypeMessageEdit, Frame: MessageEdit{Type: TypeMessageEdit, Message: msg}}
	if scope.RoomID == "" {
		env.FrameFor = func(receiver types.UserIDType) any {
			m := msg
			m.DMPeerID = dmPeerFor(scope, receiver)
			return MessageEdit{Type: TypeMessageEdit, Message: m}
		}
	}
	return env
}

// NewMessageDelete builds an enveloped message.delete event.
func NewMessageDelete(scope Scope, messageID types.MessageIDType, ts string) Envelope {
	frame := MessageDelete{Type: TypeMessageDelete, MessageID: messageID, TS: ts}
	frame.RoomID = scope.RoomID
	env := Envelope{Scope: scope, Type: TypeMessageDelete, Frame: frame}
	if scope.RoomID == "" {
		env.FrameFor = func(receiver types.UserIDType) any {
			f := frame
			f.DMPeerID = dmPeerFor(scope, receiver)
			return f
		}
	}
	return env
}

// NewReaction builds an enveloped reaction add/remove event. Fanned counts
// are audience-neutral: me only carries meaning on direct responses.
func NewReaction(scope Scope, add bool, messageID types.MessageIDType, emoji string, counts []types.ReactionCount) Envelope {
	t := TypeReactionAdd
	if !add {
		t = TypeReactionRemove
	}
	shared := make([]types.ReactionCount, len(counts))
	for i, rc := range counts {
		rc.Me = false
		shared[i] = rc
	}
	return Envelope{Scope: scope, Type: t, Frame: Reaction{Type: t, MessageID: messageID, Emoji: emoji, Counts: shared}}
}

// NewPin builds an enveloped pin add/remove event.
func NewPin(roomID types.RoomIDType, add bool, messageID types.MessageIDType) Envelope {
	t := TypePinAdd
	if !add {
		t = TypePinRemove
	}
	return Envelope{Scope: RoomScope(roomID), Type: t, Frame: Pin{Type: t, RoomID: roomID, MessageID: messageID}}
}

// NewTyping builds an enveloped typing event.
func NewTyping(scope Scope, userID types.UserIDType, start bool) Envelope {
	state := "stop"
	if start {
		state = "start"
	}
	frame := Typing{Type: TypeTyping, UserID: userID, State: state}
	frame.RoomID = scope.RoomID
	env := Envelope{Scope: scope, Type: TypeTyping, Frame: frame}
	if scope.RoomID == "" {
		env.FrameFor = func(receiver types.UserIDType) any {
			f := frame
			f.DMPeerID = dmPeerFor(scope, receiver)
			return f
		}
	}
	return env
}

// NewPresence builds an enveloped presence event addressed to all sessions.
func NewPresence(userID types.UserIDType, online bool) Envelope {
	state := "offline"
	if online {
		state = "online"
	}
	return Envelope{Scope: GlobalScope(), Type: TypePresence, Frame: Presence{Type: TypePresence, UserID: userID, State: state}}
}
