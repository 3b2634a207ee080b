package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/entity"
	"github.com/openrooms/orc-server/internal/v1/types"
)

func TestUpdateMeValidatesPhotoCID(t *testing.T) {
	c := New(testConfig())
	user := login(t, c, "alice")

	bogus := "nonexistent-cid"
	_, err := c.UpdateMe(user.UserID, entity.ProfilePatch{PhotoCID: &bogus})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeBadRequest))

	meta, err := c.Upload(context.Background(), []byte("avatar"), "image/png")
	require.NoError(t, err)

	updated, err := c.UpdateMe(user.UserID, entity.ProfilePatch{PhotoCID: &meta.CID})
	require.NoError(t, err)
	assert.Equal(t, meta.CID, updated.PhotoCID)

	// Clearing the photo needs no blob lookup.
	empty := ""
	updated, err = c.UpdateMe(user.UserID, entity.ProfilePatch{PhotoCID: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.PhotoCID)
}

func TestDirectorySearch(t *testing.T) {
	c := New(testConfig())
	alice := login(t, c, "alice")
	login(t, c, "alicia")
	login(t, c, "bob")

	users := c.SearchUsers("ali", 10)
	require.Len(t, users, 2)

	makeRoom(t, c, alice.UserID, "go-help")
	makeRoom(t, c, alice.UserID, "general")

	rooms := c.SearchRooms("go", 10, alice.UserID)
	require.Len(t, rooms, 1)
	assert.Equal(t, "go-help", rooms[0].Name)
}

func TestMyRooms(t *testing.T) {
	c := New(testConfig())
	alice := login(t, c, "alice")
	bob := login(t, c, "bob")

	makeRoom(t, c, alice.UserID, "general")
	makeRoom(t, c, bob.UserID, "random")
	require.NoError(t, c.JoinRoom(context.Background(), alice.UserID, "random"))

	var names []string
	for _, room := range c.MyRooms(alice.UserID) {
		names = append(names, room.Name)
	}
	assert.ElementsMatch(t, []string{"general", "random"}, names)

	assert.Empty(t, c.MyRooms(types.UserIDType("nobodynnnnnnnnnnnnnnnnnnnn")))
}
