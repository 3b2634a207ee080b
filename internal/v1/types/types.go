package types

import (
	"strings"
)

// --- Core Domain Types ---

// UserIDType is the opaque Base32 identifier of a user.
type UserIDType string

// RoomIDType is the opaque Base32 identifier of a room.
type RoomIDType string

// MessageIDType is the opaque Base32 identifier of a message.
type MessageIDType string

// RoleType defines a member's permission level within a room.
type RoleType string

// VisibilityType is the room visibility.
type VisibilityType string

// Role constants, highest precedence first.
const (
	RoleTypeOwner     RoleType = "owner"
	RoleTypeAdmin     RoleType = "admin"
	RoleTypeModerator RoleType = "moderator"
	RoleTypeMember    RoleType = "member"
	RoleTypeGuest     RoleType = "guest"
)

const (
	VisibilityPublic  VisibilityType = "public"
	VisibilityPrivate VisibilityType = "private"
)

// rolePrecedence maps roles to a comparable rank. Unknown roles rank below guest.
var rolePrecedence = map[RoleType]int{
	RoleTypeOwner:     5,
	RoleTypeAdmin:     4,
	RoleTypeModerator: 3,
	RoleTypeMember:    2,
	RoleTypeGuest:     1,
}

// RoleAtLeast reports whether role has at least the precedence of min.
func RoleAtLeast(role, min RoleType) bool {
	return rolePrecedence[role] >= rolePrecedence[min]
}

// ValidRole reports whether role is one of the five known roles.
func ValidRole(role RoleType) bool {
	_, ok := rolePrecedence[role]
	return ok
}

// --- Stream addressing ---

// StreamKey identifies a logical ordered message container: either a room
// stream ("room:<room_id>") or a canonical DM pair ("dm:<min>:<max>").
type StreamKey string

// RoomStreamKey builds the stream key for a room.
func RoomStreamKey(roomID RoomIDType) StreamKey {
	return StreamKey("room:" + string(roomID))
}

// DMStreamKey builds the canonical stream key for a DM pair; the two user
// IDs are ordered so that (a,b) and (b,a) address the same stream.
func DMStreamKey(a, b UserIDType) StreamKey {
	if b < a {
		a, b = b, a
	}
	return StreamKey("dm:" + string(a) + ":" + string(b))
}

// RoomID extracts the room ID from a room stream key, or "" for DM streams.
func (k StreamKey) RoomID() RoomIDType {
	if rest, ok := strings.CutPrefix(string(k), "room:"); ok {
		return RoomIDType(rest)
	}
	return ""
}

// DMPair extracts the canonical user pair from a DM stream key.
// ok is false for room streams.
func (k StreamKey) DMPair() (a, b UserIDType, ok bool) {
	rest, found := strings.CutPrefix(string(k), "dm:")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return UserIDType(parts[0]), UserIDType(parts[1]), true
}

// IsDM reports whether the key addresses a DM stream.
func (k StreamKey) IsDM() bool {
	return strings.HasPrefix(string(k), "dm:")
}

// --- Domain structs (snapshots safe to serialize) ---

// User is the public profile of a user.
type User struct {
	UserID      UserIDType `json:"user_id"`
	DisplayName string     `json:"display_name"`
	PhotoCID    string     `json:"photo_cid,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	StatusText  string     `json:"status_text,omitempty"`
	StatusEmoji string     `json:"status_emoji,omitempty"`
}

// Room is the public state of a room. MemberCount always equals the
// cardinality of the membership mapping.
type Room struct {
	RoomID           RoomIDType      `json:"room_id"`
	Name             string          `json:"name"`
	Topic            string          `json:"topic"`
	Visibility       VisibilityType  `json:"visibility"`
	OwnerID          UserIDType      `json:"owner_id"`
	CreatedAt        string          `json:"created_at"`
	MemberCount      int             `json:"member_count"`
	PinnedMessageIDs []MessageIDType `json:"pinned_message_ids"`
}

// Attachment references an uploaded blob by content ID.
type Attachment struct {
	CID   string `json:"cid"`
	Mime  string `json:"mime,omitempty"`
	Name  string `json:"name,omitempty"`
	Bytes int64  `json:"bytes,omitempty"`
}

// ReactionCount is one entry of a message's public reaction summary.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Me    bool   `json:"me"`
}

// Message is the public shape of a message. Exactly one of RoomID /
// DMPeerID is set; for DM messages DMPeerID holds the peer relative to
// the reader. Tombstoned messages always serialize with empty Text.
type Message struct {
	MessageID        MessageIDType   `json:"message_id"`
	RoomID           RoomIDType      `json:"room_id,omitempty"`
	DMPeerID         UserIDType      `json:"dm_peer_id,omitempty"`
	AuthorID         UserIDType      `json:"author_id"`
	Seq              uint64          `json:"seq"`
	TS               string          `json:"ts"`
	ParentID         MessageIDType   `json:"parent_id,omitempty"`
	ContentType      string          `json:"content_type"`
	Text             string          `json:"text"`
	Attachments      []Attachment    `json:"attachments,omitempty"`
	Reactions        []ReactionCount `json:"reactions,omitempty"`
	Tombstone        bool            `json:"tombstone"`
	EditedAt         string          `json:"edited_at,omitempty"`
	ModerationReason string          `json:"moderation_reason,omitempty"`
}

// UploadMeta describes a stored content-addressed blob.
type UploadMeta struct {
	CID    string `json:"cid"`
	Bytes  int64  `json:"bytes"`
	Mime   string `json:"mime"`
	SHA256 string `json:"sha256"`
}

// --- Shared Interfaces ---

// Subscriber is a live realtime session as seen by the subscription hub.
// Deliver must never block; it reports false when the session's outbound
// buffer overflowed or the session is closed, in which case the hub
// schedules the session for teardown.
type Subscriber interface {
	SessionID() string
	UserID() UserIDType
	Deliver(frame any) bool
	CloseSlow()
}
