package core

import (
	"context"
	"time"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/config"
	"github.com/openrooms/orc-server/internal/v1/entity"
	"github.com/openrooms/orc-server/internal/v1/events"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// resolveRoom maps an external room key (room_id or room name) to a
// snapshot.
func (c *Core) resolveRoom(key string) (types.Room, error) {
	roomID, ok := c.entities.ResolveRoomKey(key)
	if !ok {
		return types.Room{}, apierr.NotFound("no room matches %q", key)
	}
	room, ok := c.entities.GetRoom(roomID)
	if !ok {
		return types.Room{}, apierr.NotFound("no room matches %q", key)
	}
	return room, nil
}

// roomVisibleTo enforces that private rooms exist only for their members.
func (c *Core) roomVisibleTo(room types.Room, viewer types.UserIDType) error {
	if room.Visibility == types.VisibilityPrivate {
		if _, isMember := c.entities.RoleOf(room.RoomID, viewer); !isMember {
			return apierr.NotFound("no room matches %q", room.Name)
		}
	}
	return nil
}

// requireRole authorizes callers holding at least min in the room.
func (c *Core) requireRole(roomID types.RoomIDType, caller types.UserIDType, min types.RoleType) error {
	role, ok := c.entities.RoleOf(roomID, caller)
	if !ok {
		return apierr.Forbidden("not a member of this room")
	}
	if !types.RoleAtLeast(role, min) {
		return apierr.Forbidden("requires %s role or better", min)
	}
	return nil
}

// CreateRoom creates a room owned by the caller.
func (c *Core) CreateRoom(ctx context.Context, owner types.UserIDType, name string, visibility types.VisibilityType, topic string) (types.Room, error) {
	defer c.observe("rooms.create", time.Now())
	return c.entities.CreateRoom(owner, name, visibility, topic)
}

// GetRoom returns the room addressed by key, subject to visibility.
func (c *Core) GetRoom(key string, viewer types.UserIDType) (types.Room, error) {
	room, err := c.resolveRoom(key)
	if err != nil {
		return types.Room{}, err
	}
	if err := c.roomVisibleTo(room, viewer); err != nil {
		return types.Room{}, err
	}
	return room, nil
}

// UpdateRoom renames or retopics a room. Requires admin or better.
func (c *Core) UpdateRoom(ctx context.Context, caller types.UserIDType, key string, patch entity.RoomPatch) (types.Room, error) {
	defer c.observe("rooms.update", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return types.Room{}, err
	}
	if err := c.requireRole(room.RoomID, caller, types.RoleTypeAdmin); err != nil {
		return types.Room{}, err
	}
	return c.entities.UpdateRoom(room.RoomID, patch)
}

// JoinRoom adds the caller as a member. Private rooms require an invite;
// banned users are rejected.
func (c *Core) JoinRoom(ctx context.Context, caller types.UserIDType, key string) error {
	defer c.observe("rooms.join", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if room.Visibility == types.VisibilityPrivate {
		if _, isMember := c.entities.RoleOf(room.RoomID, caller); !isMember {
			return apierr.Forbidden("room is private; ask for an invite")
		}
		return nil
	}
	return c.entities.AddMember(room.RoomID, caller, types.RoleTypeMember)
}

// LeaveRoom removes the caller from the room. The owner-leave policy
// decides whether owners may leave at all.
func (c *Core) LeaveRoom(ctx context.Context, caller types.UserIDType, key string) error {
	defer c.observe("rooms.leave", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if _, isMember := c.entities.RoleOf(room.RoomID, caller); !isMember {
		return nil
	}

	if room.OwnerID == caller {
		switch c.cfg.OwnerLeave {
		case config.OwnerLeavePromote:
			if room.MemberCount > 1 {
				if _, err := c.entities.TransferOwnershipToSenior(room.RoomID); err != nil {
					return err
				}
			} else {
				// Sole member: the room keeps its owner on the books until
				// they return; leaving is a no-op.
				return nil
			}
		default:
			return apierr.Forbidden("owner must transfer ownership before leaving")
		}
	}

	return c.entities.RemoveMember(room.RoomID, caller)
}

// Invite adds another user to the room. Any member may invite; the target
// joins as member unless banned.
func (c *Core) Invite(ctx context.Context, caller types.UserIDType, key string, target types.UserIDType) error {
	defer c.observe("rooms.invite", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if err := c.requireRole(room.RoomID, caller, types.RoleTypeMember); err != nil {
		return err
	}
	if _, ok := c.entities.GetUser(target); !ok {
		return apierr.NotFound("user not found")
	}
	return c.entities.AddMember(room.RoomID, target, types.RoleTypeMember)
}

// Kick removes a member. Requires moderator or better and strictly higher
// precedence than the target.
func (c *Core) Kick(ctx context.Context, caller types.UserIDType, key string, target types.UserIDType) error {
	defer c.observe("rooms.kick", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if err := c.moderationAllowed(room.RoomID, caller, target); err != nil {
		return err
	}
	return c.entities.RemoveMember(room.RoomID, target)
}

// SetBan bans or unbans a user. Banning removes membership.
func (c *Core) SetBan(ctx context.Context, caller types.UserIDType, key string, target types.UserIDType, banned bool) error {
	defer c.observe("rooms.ban", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if err := c.moderationAllowed(room.RoomID, caller, target); err != nil {
		return err
	}
	return c.entities.SetBan(room.RoomID, target, banned)
}

// SetMute mutes or unmutes a member.
func (c *Core) SetMute(ctx context.Context, caller types.UserIDType, key string, target types.UserIDType, muted bool) error {
	defer c.observe("rooms.mute", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if err := c.moderationAllowed(room.RoomID, caller, target); err != nil {
		return err
	}
	return c.entities.SetMute(room.RoomID, target, muted)
}

// SetRole changes a member's role. Admin or better; only the owner may
// assign owner (enforced by the store).
func (c *Core) SetRole(ctx context.Context, caller types.UserIDType, key string, target types.UserIDType, role types.RoleType) error {
	defer c.observe("rooms.set_role", time.Now())

	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if err := c.requireRole(room.RoomID, caller, types.RoleTypeAdmin); err != nil {
		return err
	}
	return c.entities.SetRole(room.RoomID, caller, target, role)
}

// moderationAllowed checks the moderator floor plus precedence: nobody
// moderates a peer of equal or higher rank.
func (c *Core) moderationAllowed(roomID types.RoomIDType, caller, target types.UserIDType) error {
	callerRole, ok := c.entities.RoleOf(roomID, caller)
	if !ok {
		return apierr.Forbidden("not a member of this room")
	}
	if !types.RoleAtLeast(callerRole, types.RoleTypeModerator) {
		return apierr.Forbidden("requires moderator role or better")
	}
	if targetRole, ok := c.entities.RoleOf(roomID, target); ok {
		if types.RoleAtLeast(targetRole, callerRole) {
			return apierr.Forbidden("cannot moderate a member of equal or higher role")
		}
	}
	return nil
}

// Pin pins a message in its room and publishes event.pin.add.
func (c *Core) Pin(ctx context.Context, caller types.UserIDType, key string, messageID types.MessageIDType) error {
	defer c.observe("rooms.pin", time.Now())
	return c.setPin(ctx, caller, key, messageID, true)
}

// Unpin removes a pin and publishes event.pin.remove.
func (c *Core) Unpin(ctx context.Context, caller types.UserIDType, key string, messageID types.MessageIDType) error {
	defer c.observe("rooms.unpin", time.Now())
	return c.setPin(ctx, caller, key, messageID, false)
}

func (c *Core) setPin(ctx context.Context, caller types.UserIDType, key string, messageID types.MessageIDType, add bool) error {
	room, err := c.resolveRoom(key)
	if err != nil {
		return err
	}
	if err := c.requireRole(room.RoomID, caller, types.RoleTypeModerator); err != nil {
		return err
	}

	// pinned_message_ids must stay a subset of the room's messages.
	streamKey, ok := c.streams.StreamOf(messageID)
	if !ok || streamKey != types.RoomStreamKey(room.RoomID) {
		return apierr.NotFound("message not found in this room")
	}

	var changed bool
	if add {
		changed, err = c.entities.Pin(room.RoomID, messageID)
	} else {
		changed, err = c.entities.Unpin(room.RoomID, messageID)
	}
	if err != nil {
		return err
	}
	if changed {
		c.hub.Publish(ctx, events.NewPin(room.RoomID, add, messageID))
	}
	return nil
}
