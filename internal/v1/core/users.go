package core

import (
	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/entity"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// Me returns the caller's profile.
func (c *Core) Me(userID types.UserIDType) (types.User, error) {
	user, ok := c.entities.GetUser(userID)
	if !ok {
		return types.User{}, apierr.NotFound("user not found")
	}
	return user, nil
}

// UpdateMe patches the caller's own profile.
func (c *Core) UpdateMe(userID types.UserIDType, patch entity.ProfilePatch) (types.User, error) {
	if patch.PhotoCID != nil && *patch.PhotoCID != "" {
		if _, err := c.entities.GetBlobMeta(*patch.PhotoCID); err != nil {
			return types.User{}, apierr.BadRequest("photo_cid does not reference an uploaded blob")
		}
	}
	return c.entities.UpdateProfile(userID, patch)
}

// SearchUsers serves the public user directory.
func (c *Core) SearchUsers(q string, limit int) []types.User {
	return c.entities.SearchUsers(q, limit)
}

// SearchRooms serves the public room directory; private rooms only appear
// for their members.
func (c *Core) SearchRooms(q string, limit int, viewer types.UserIDType) []types.Room {
	return c.entities.SearchRooms(q, limit, viewer)
}

// MyRooms lists every room the caller belongs to.
func (c *Core) MyRooms(userID types.UserIDType) []types.Room {
	return c.entities.RoomsOf(userID)
}
