package core

import (
	"context"
	"time"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/events"
	"github.com/openrooms/orc-server/internal/v1/stream"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// PostRoomMessage posts into a room stream and fans out
// event.message.create. The author must be a member and not muted.
func (c *Core) PostRoomMessage(ctx context.Context, author types.UserIDType, key string, in stream.PostInput) (types.Message, error) {
	defer c.observe("messages.post_room", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return types.Message{}, err
	}
	if err := c.requireRole(room.RoomID, author, types.RoleTypeGuest); err != nil {
		return types.Message{}, err
	}
	if c.entities.IsMuted(room.RoomID, author) {
		return types.Message{}, apierr.Forbidden("you are muted in this room")
	}
	in.AuthorID = author

	streamKey := types.RoomStreamKey(room.RoomID)
	lock := c.streamLock(streamKey)
	lock.Lock()
	defer lock.Unlock()

	msg, err := c.streams.Post(streamKey, in)
	if err != nil {
		return types.Message{}, err
	}
	c.hub.Publish(ctx, events.NewMessageCreate(events.RoomScope(room.RoomID), msg))
	return msg, nil
}

// PostDM posts into the canonical DM stream of (author, peer).
func (c *Core) PostDM(ctx context.Context, author, peer types.UserIDType, in stream.PostInput) (types.Message, error) {
	defer c.observe("messages.post_dm", time.Now())

	if _, ok := c.entities.GetUser(peer); !ok {
		return types.Message{}, apierr.NotFound("user not found")
	}
	if peer == author {
		return types.Message{}, apierr.BadRequest("cannot DM yourself")
	}
	in.AuthorID = author

	streamKey := types.DMStreamKey(author, peer)
	lock := c.streamLock(streamKey)
	lock.Lock()
	defer lock.Unlock()

	msg, err := c.streams.Post(streamKey, in)
	if err != nil {
		return types.Message{}, err
	}
	c.hub.Publish(ctx, events.NewMessageCreate(events.DMScope(author, peer), msg))
	return msg, nil
}

// roomStreamFor authorizes read access: members always read; public rooms
// are readable by any authenticated user.
func (c *Core) roomStreamFor(key string, reader types.UserIDType) (types.Room, types.StreamKey, error) {
	room, err := c.resolveRoom(key)
	if err != nil {
		return types.Room{}, "", err
	}
	if _, isMember := c.entities.RoleOf(room.RoomID, reader); !isMember {
		if room.Visibility == types.VisibilityPrivate {
			return types.Room{}, "", apierr.NotFound("no room matches %q", key)
		}
	}
	return room, types.RoomStreamKey(room.RoomID), nil
}

// ReadRoomMessages is the forward read of a room stream.
func (c *Core) ReadRoomMessages(ctx context.Context, reader types.UserIDType, key string, fromSeq uint64, limit int) ([]types.Message, uint64, error) {
	defer c.observe("messages.read_room", time.Now())

	_, streamKey, err := c.roomStreamFor(key, reader)
	if err != nil {
		return nil, 0, err
	}
	return c.streams.ForwardRead(streamKey, fromSeq, limit, reader)
}

// BackfillRoomMessages is the reverse read of a room stream.
func (c *Core) BackfillRoomMessages(ctx context.Context, reader types.UserIDType, key string, beforeSeq uint64, limit int) ([]types.Message, uint64, error) {
	defer c.observe("messages.backfill_room", time.Now())

	_, streamKey, err := c.roomStreamFor(key, reader)
	if err != nil {
		return nil, 0, err
	}
	return c.streams.BackfillRead(streamKey, beforeSeq, limit, reader)
}

// ReadDMs is the forward read of the caller's DM stream with peer.
func (c *Core) ReadDMs(ctx context.Context, reader, peer types.UserIDType, fromSeq uint64, limit int) ([]types.Message, uint64, error) {
	defer c.observe("messages.read_dm", time.Now())

	if _, ok := c.entities.GetUser(peer); !ok {
		return nil, 0, apierr.NotFound("user not found")
	}
	return c.streams.ForwardRead(types.DMStreamKey(reader, peer), fromSeq, limit, reader)
}

// BackfillDMs is the reverse read of the caller's DM stream with peer.
func (c *Core) BackfillDMs(ctx context.Context, reader, peer types.UserIDType, beforeSeq uint64, limit int) ([]types.Message, uint64, error) {
	defer c.observe("messages.backfill_dm", time.Now())

	if _, ok := c.entities.GetUser(peer); !ok {
		return nil, 0, apierr.NotFound("user not found")
	}
	return c.streams.BackfillRead(types.DMStreamKey(reader, peer), beforeSeq, limit, reader)
}

// AckRoom advances the caller's cursor in a room stream.
func (c *Core) AckRoom(ctx context.Context, caller types.UserIDType, key string, seq uint64) error {
	_, streamKey, err := c.roomStreamFor(key, caller)
	if err != nil {
		return err
	}
	c.streams.SetCursor(streamKey, caller, seq)
	return nil
}

// AckDM advances the caller's cursor in a DM stream.
func (c *Core) AckDM(ctx context.Context, caller, peer types.UserIDType, seq uint64) error {
	if _, ok := c.entities.GetUser(peer); !ok {
		return apierr.NotFound("user not found")
	}
	c.streams.SetCursor(types.DMStreamKey(caller, peer), caller, seq)
	return nil
}

// RoomCursor reads the caller's cursor in a room stream.
func (c *Core) RoomCursor(caller types.UserIDType, key string) (uint64, error) {
	_, streamKey, err := c.roomStreamFor(key, caller)
	if err != nil {
		return 0, err
	}
	return c.streams.GetCursor(streamKey, caller), nil
}

// DMCursor reads the caller's cursor in a DM stream.
func (c *Core) DMCursor(caller, peer types.UserIDType) (uint64, error) {
	if _, ok := c.entities.GetUser(peer); !ok {
		return 0, apierr.NotFound("user not found")
	}
	return c.streams.GetCursor(types.DMStreamKey(caller, peer), caller), nil
}

// scopeOf maps a stream key to its fan-out scope. actor orients the
// dm_peer_id of DM-scoped frames.
func scopeOf(key types.StreamKey, actor types.UserIDType) events.Scope {
	if roomID := key.RoomID(); roomID != "" {
		return events.RoomScope(roomID)
	}
	a, b, _ := key.DMPair()
	if actor == b {
		a, b = b, a
	}
	return events.DMScope(a, b)
}

// EditMessage updates the caller's own message and fans out
// event.message.edit.
func (c *Core) EditMessage(ctx context.Context, caller types.UserIDType, messageID types.MessageIDType, text *string, attachments []types.Attachment) (types.Message, error) {
	defer c.observe("messages.edit", time.Now())

	streamKey, ok := c.streams.StreamOf(messageID)
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}

	lock := c.streamLock(streamKey)
	lock.Lock()
	defer lock.Unlock()

	msg, err := c.streams.Edit(messageID, caller, text, attachments)
	if err != nil {
		return types.Message{}, err
	}
	c.hub.Publish(ctx, events.NewMessageEdit(scopeOf(streamKey, caller), msg))
	return msg, nil
}

// DeleteMessage tombstones a message and fans out event.message.delete.
// Authors delete their own; moderators and better purge anything in their
// room.
func (c *Core) DeleteMessage(ctx context.Context, caller types.UserIDType, messageID types.MessageIDType, reason string) (types.Message, error) {
	defer c.observe("messages.delete", time.Now())

	streamKey, ok := c.streams.StreamOf(messageID)
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}

	canModerate := false
	if roomID := streamKey.RoomID(); roomID != "" {
		if role, isMember := c.entities.RoleOf(roomID, caller); isMember {
			canModerate = types.RoleAtLeast(role, types.RoleTypeModerator)
		}
	}

	lock := c.streamLock(streamKey)
	lock.Lock()
	defer lock.Unlock()

	msg, err := c.streams.Tombstone(messageID, caller, canModerate, reason)
	if err != nil {
		return types.Message{}, err
	}
	c.hub.Publish(ctx, events.NewMessageDelete(scopeOf(streamKey, caller), messageID, msg.TS))
	return msg, nil
}

// React adds or removes a reaction and fans out event.reaction.add or
// event.reaction.remove carrying the full summary.
func (c *Core) React(ctx context.Context, caller types.UserIDType, messageID types.MessageIDType, emoji string, add bool) ([]types.ReactionCount, error) {
	defer c.observe("messages.react", time.Now())

	streamKey, ok := c.streams.StreamOf(messageID)
	if !ok {
		return nil, apierr.NotFound("message not found")
	}

	lock := c.streamLock(streamKey)
	lock.Lock()
	defer lock.Unlock()

	counts, err := c.streams.React(messageID, caller, emoji, add)
	if err != nil {
		return nil, err
	}
	c.hub.Publish(ctx, events.NewReaction(scopeOf(streamKey, caller), add, messageID, emoji, counts))
	return counts, nil
}

// TypingRoom publishes a typing indicator to a room.
func (c *Core) TypingRoom(ctx context.Context, caller types.UserIDType, key string, start bool) error {
	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if err := c.requireRole(room.RoomID, caller, types.RoleTypeGuest); err != nil {
		return err
	}
	c.hub.Publish(ctx, events.NewTyping(events.RoomScope(room.RoomID), caller, start))
	return nil
}

// TypingDM publishes a typing indicator to a DM pair.
func (c *Core) TypingDM(ctx context.Context, caller, peer types.UserIDType, start bool) error {
	if _, ok := c.entities.GetUser(peer); !ok {
		return apierr.NotFound("user not found")
	}
	c.hub.Publish(ctx, events.NewTyping(events.DMScope(caller, peer), caller, start))
	return nil
}

// Upload stores a content-addressed blob.
func (c *Core) Upload(ctx context.Context, data []byte, mimeHint string) (types.UploadMeta, error) {
	defer c.observe("uploads.put", time.Now())
	return c.entities.PutBlob(data, mimeHint)
}

// Media fetches a stored blob.
func (c *Core) Media(cid string) (string, []byte, error) {
	return c.entities.GetBlob(cid)
}

// MediaMeta fetches blob metadata for HEAD requests.
func (c *Core) MediaMeta(cid string) (types.UploadMeta, error) {
	return c.entities.GetBlobMeta(cid)
}
