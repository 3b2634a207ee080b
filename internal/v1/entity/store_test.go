package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/types"
)

func newTestStore() *Store {
	return NewStore(1024)
}

func mustUser(t *testing.T, s *Store, name string) types.User {
	t.Helper()
	u, err := s.EnsureGuestUser(name)
	require.NoError(t, err)
	return u
}

func mustRoom(t *testing.T, s *Store, owner types.UserIDType, name string) types.Room {
	t.Helper()
	room, err := s.CreateRoom(owner, name, types.VisibilityPublic, "")
	require.NoError(t, err)
	return room
}

func TestEnsureGuestUserIsStableByName(t *testing.T) {
	s := newTestStore()

	a := mustUser(t, s, "alice")
	again := mustUser(t, s, "alice")
	assert.Equal(t, a.UserID, again.UserID, "guest re-login resolves to the same user")

	b := mustUser(t, s, "bob")
	assert.NotEqual(t, a.UserID, b.UserID)
}

func TestEnsureGuestUserGeneratesName(t *testing.T) {
	s := newTestStore()

	u := mustUser(t, s, "  ")
	assert.Contains(t, u.DisplayName, "guest-")
}

func TestUpdateProfileFieldLimits(t *testing.T) {
	s := newTestStore()
	u := mustUser(t, s, "alice")

	longBio := make([]byte, 1025)
	for i := range longBio {
		longBio[i] = 'x'
	}
	bio := string(longBio)
	_, err := s.UpdateProfile(u.UserID, ProfilePatch{Bio: &bio})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeBadRequest))

	ok := "hello"
	updated, err := s.UpdateProfile(u.UserID, ProfilePatch{Bio: &ok})
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Bio)
}

func TestUpdateProfileRejectsTakenDisplayName(t *testing.T) {
	s := newTestStore()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	name := "alice"
	_, err := s.UpdateProfile(bob.UserID, ProfilePatch{DisplayName: &name})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))

	// The failed rename must not have repointed alice's guest login.
	again := mustUser(t, s, "alice")
	assert.Equal(t, alice.UserID, again.UserID)

	// Keeping your own current name is not a collision.
	updated, err := s.UpdateProfile(alice.UserID, ProfilePatch{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.DisplayName)
}

func TestCreateRoomNameConflictIsCaseInsensitive(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")

	mustRoom(t, s, owner.UserID, "General")

	_, err := s.CreateRoom(owner.UserID, "general", types.VisibilityPublic, "")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))
}

func TestCreateRoomOwnerIsSoleMember(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")

	room := mustRoom(t, s, owner.UserID, "general")
	assert.Equal(t, 1, room.MemberCount)
	assert.Equal(t, owner.UserID, room.OwnerID)

	role, ok := s.RoleOf(room.RoomID, owner.UserID)
	require.True(t, ok)
	assert.Equal(t, types.RoleTypeOwner, role)
}

func TestResolveRoomKeyAcceptsIDAndName(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	room := mustRoom(t, s, owner.UserID, "General")

	id, ok := s.ResolveRoomKey(string(room.RoomID))
	require.True(t, ok)
	assert.Equal(t, room.RoomID, id)

	id, ok = s.ResolveRoomKey("general")
	require.True(t, ok)
	assert.Equal(t, room.RoomID, id)

	_, ok = s.ResolveRoomKey("missing")
	assert.False(t, ok)
}

func TestUpdateRoomRenameConflict(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	mustRoom(t, s, owner.UserID, "general")
	other := mustRoom(t, s, owner.UserID, "random")

	name := "GENERAL"
	_, err := s.UpdateRoom(other.RoomID, RoomPatch{Name: &name})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeConflict))

	// Renaming to a different casing of itself is allowed.
	self := "Random"
	updated, err := s.UpdateRoom(other.RoomID, RoomPatch{Name: &self})
	require.NoError(t, err)
	assert.Equal(t, "Random", updated.Name)

	// The old name still resolves because only casing changed.
	id, ok := s.ResolveRoomKey("random")
	require.True(t, ok)
	assert.Equal(t, other.RoomID, id)
}

func TestMembershipIdempotentAndCounted(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	joiner := mustUser(t, s, "bob")
	room := mustRoom(t, s, owner.UserID, "general")

	require.NoError(t, s.AddMember(room.RoomID, joiner.UserID, types.RoleTypeMember))
	require.NoError(t, s.AddMember(room.RoomID, joiner.UserID, types.RoleTypeAdmin), "re-join is a no-op")

	role, ok := s.RoleOf(room.RoomID, joiner.UserID)
	require.True(t, ok)
	assert.Equal(t, types.RoleTypeMember, role, "re-join must not escalate the role")

	snap, ok := s.GetRoom(room.RoomID)
	require.True(t, ok)
	assert.Equal(t, 2, snap.MemberCount)

	require.NoError(t, s.RemoveMember(room.RoomID, joiner.UserID))
	require.NoError(t, s.RemoveMember(room.RoomID, joiner.UserID), "removing a non-member is a no-op")

	snap, ok = s.GetRoom(room.RoomID)
	require.True(t, ok)
	assert.Equal(t, 1, snap.MemberCount)
}

func TestOwnerAssignTransfersOwnership(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	next := mustUser(t, s, "bob")
	room := mustRoom(t, s, owner.UserID, "general")
	require.NoError(t, s.AddMember(room.RoomID, next.UserID, types.RoleTypeMember))

	err := s.SetRole(room.RoomID, next.UserID, next.UserID, types.RoleTypeOwner)
	require.Error(t, err, "only the owner may assign owner")
	assert.True(t, apierr.Is(err, apierr.CodeForbidden))

	require.NoError(t, s.SetRole(room.RoomID, owner.UserID, next.UserID, types.RoleTypeOwner))

	snap, _ := s.GetRoom(room.RoomID)
	assert.Equal(t, next.UserID, snap.OwnerID)

	prevRole, _ := s.RoleOf(room.RoomID, owner.UserID)
	assert.Equal(t, types.RoleTypeAdmin, prevRole, "previous owner steps down to admin")
}

func TestTransferOwnershipToSenior(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	first := mustUser(t, s, "bob")
	second := mustUser(t, s, "carol")
	room := mustRoom(t, s, owner.UserID, "general")

	require.NoError(t, s.AddMember(room.RoomID, first.UserID, types.RoleTypeAdmin))
	require.NoError(t, s.AddMember(room.RoomID, second.UserID, types.RoleTypeAdmin))

	next, err := s.TransferOwnershipToSenior(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, next, "the longest-standing admin wins")

	snap, _ := s.GetRoom(room.RoomID)
	assert.Equal(t, first.UserID, snap.OwnerID)
}

func TestTransferOwnershipFallsBackToMember(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	only := mustUser(t, s, "bob")
	room := mustRoom(t, s, owner.UserID, "general")
	require.NoError(t, s.AddMember(room.RoomID, only.UserID, types.RoleTypeMember))

	next, err := s.TransferOwnershipToSenior(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, only.UserID, next)
}

func TestBanRemovesMembershipAndBlocksRejoin(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	target := mustUser(t, s, "bob")
	room := mustRoom(t, s, owner.UserID, "general")
	require.NoError(t, s.AddMember(room.RoomID, target.UserID, types.RoleTypeMember))

	require.NoError(t, s.SetBan(room.RoomID, target.UserID, true))
	assert.True(t, s.IsBanned(room.RoomID, target.UserID))
	_, stillMember := s.RoleOf(room.RoomID, target.UserID)
	assert.False(t, stillMember, "banning removes membership")

	err := s.AddMember(room.RoomID, target.UserID, types.RoleTypeMember)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeForbidden))

	require.NoError(t, s.SetBan(room.RoomID, target.UserID, false))
	require.NoError(t, s.AddMember(room.RoomID, target.UserID, types.RoleTypeMember))
}

func TestMuteToggle(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	target := mustUser(t, s, "bob")
	room := mustRoom(t, s, owner.UserID, "general")
	require.NoError(t, s.AddMember(room.RoomID, target.UserID, types.RoleTypeMember))

	assert.False(t, s.IsMuted(room.RoomID, target.UserID))
	require.NoError(t, s.SetMute(room.RoomID, target.UserID, true))
	assert.True(t, s.IsMuted(room.RoomID, target.UserID))
	require.NoError(t, s.SetMute(room.RoomID, target.UserID, false))
	assert.False(t, s.IsMuted(room.RoomID, target.UserID))
}

func TestSearchRoomsHidesPrivateFromNonMembers(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	outsider := mustUser(t, s, "bob")

	_, err := s.CreateRoom(owner.UserID, "secret-lair", types.VisibilityPrivate, "")
	require.NoError(t, err)
	mustRoom(t, s, owner.UserID, "public-square")

	names := func(rooms []types.Room) []string {
		var out []string
		for _, r := range rooms {
			out = append(out, r.Name)
		}
		return out
	}

	assert.Equal(t, []string{"public-square"}, names(s.SearchRooms("", 10, outsider.UserID)))
	assert.ElementsMatch(t, []string{"secret-lair", "public-square"}, names(s.SearchRooms("", 10, owner.UserID)))
}

func TestPinUnpin(t *testing.T) {
	s := newTestStore()
	owner := mustUser(t, s, "alice")
	room := mustRoom(t, s, owner.UserID, "general")
	msgID := types.MessageIDType("msgmmmmmmmmmmmmmmmmmmmmmmm")

	changed, err := s.Pin(room.RoomID, msgID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Pin(room.RoomID, msgID)
	require.NoError(t, err)
	assert.False(t, changed, "re-pinning is a no-op")

	snap, _ := s.GetRoom(room.RoomID)
	assert.Equal(t, []types.MessageIDType{msgID}, snap.PinnedMessageIDs)

	changed, err = s.Unpin(room.RoomID, msgID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Unpin(room.RoomID, msgID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPutBlobDedupesByContent(t *testing.T) {
	s := newTestStore()

	first, err := s.PutBlob([]byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(5), first.Bytes)
	assert.Equal(t, "text/plain", first.Mime)

	// Same bytes, different hint: the original record wins.
	second, err := s.PutBlob([]byte("hello"), "application/json")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	mime, data, err := s.GetBlob(first.CID)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mime)
	assert.Equal(t, []byte("hello"), data)
}

func TestPutBlobSizeLimit(t *testing.T) {
	s := NewStore(4)
	_, err := s.PutBlob([]byte("too big"), "")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodePayloadTooLarge))
}

func TestGetBlobUnknownCID(t *testing.T) {
	s := newTestStore()
	_, _, err := s.GetBlob("missing")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))
}
