// Package entity holds the authoritative in-memory mappings for users,
// rooms, memberships, moderation state and uploads. All mutations go
// through named operations; readers receive value snapshots that are safe
// to serialize without further locking.
package entity

import (
	"sort"
	"strings"
	"time"

	"sync"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/ids"
	"github.com/openrooms/orc-server/internal/v1/metrics"
	"github.com/openrooms/orc-server/internal/v1/types"
)

type member struct {
	role     types.RoleType
	joinedAt time.Time
	ordinal  uint64 // tie-breaker for joins within the same clock tick
}

type roomRecord struct {
	room    types.Room
	members map[types.UserIDType]*member
	bans    map[types.UserIDType]struct{}
	mutes   map[types.UserIDType]struct{}
}

type uploadRecord struct {
	meta types.UploadMeta
	data []byte
}

// Store is the entity store. Reads vastly dominate writes, so a single
// read-write lock guards all indexes.
type Store struct {
	mu sync.RWMutex

	usersByID        map[types.UserIDType]types.User
	usersByName      map[string]types.UserIDType // guest re-login by display name
	roomsByID        map[types.RoomIDType]*roomRecord
	roomsByNameLower map[string]types.RoomIDType
	uploadsByCID     map[string]*uploadRecord

	maxUploadBytes int64
	joinOrdinal    uint64
	clock          func() time.Time
}

// NewStore creates an empty entity store. maxUploadBytes bounds PutBlob.
func NewStore(maxUploadBytes int64) *Store {
	return &Store{
		usersByID:        make(map[types.UserIDType]types.User),
		usersByName:      make(map[string]types.UserIDType),
		roomsByID:        make(map[types.RoomIDType]*roomRecord),
		roomsByNameLower: make(map[string]types.RoomIDType),
		uploadsByCID:     make(map[string]*uploadRecord),
		maxUploadBytes:   maxUploadBytes,
		clock:            time.Now,
	}
}

// --- Users ---

// EnsureGuestUser looks up a user by display name or creates one. Users
// are never destroyed.
func (s *Store) EnsureGuestUser(displayName string) (types.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "guest-" + ids.NewEntityID()[:8]
	}
	if len(displayName) > 128 {
		return types.User{}, apierr.BadRequest("display_name exceeds 128 characters")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.usersByName[displayName]; ok {
		return s.usersByID[id], nil
	}

	user := types.User{
		UserID:      types.UserIDType(ids.NewEntityID()),
		DisplayName: displayName,
	}
	s.usersByID[user.UserID] = user
	s.usersByName[displayName] = user.UserID
	return user, nil
}

// GetUser returns a snapshot of the user.
func (s *Store) GetUser(userID types.UserIDType) (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByID[userID]
	return u, ok
}

// ProfilePatch carries the mutable profile fields; nil means unchanged.
type ProfilePatch struct {
	DisplayName *string
	PhotoCID    *string
	Bio         *string
	StatusText  *string
	StatusEmoji *string
}

// UpdateProfile applies a patch to the owning user's profile.
func (s *Store) UpdateProfile(userID types.UserIDType, patch ProfilePatch) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return types.User{}, apierr.NotFound("user not found")
	}

	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" || len(name) > 128 {
			return types.User{}, apierr.BadRequest("display_name must be 1..128 characters")
		}
		// Display names key guest re-login, so a rename must not capture
		// another user's name.
		if holder, taken := s.usersByName[name]; taken && holder != userID {
			return types.User{}, apierr.Conflict("display name %q is already in use", name)
		}
		delete(s.usersByName, u.DisplayName)
		u.DisplayName = name
		s.usersByName[name] = userID
	}
	if patch.PhotoCID != nil {
		u.PhotoCID = *patch.PhotoCID
	}
	if patch.Bio != nil {
		if len(*patch.Bio) > 1024 {
			return types.User{}, apierr.BadRequest("bio exceeds 1024 characters")
		}
		u.Bio = *patch.Bio
	}
	if patch.StatusText != nil {
		if len(*patch.StatusText) > 80 {
			return types.User{}, apierr.BadRequest("status_text exceeds 80 characters")
		}
		u.StatusText = *patch.StatusText
	}
	if patch.StatusEmoji != nil {
		u.StatusEmoji = *patch.StatusEmoji
	}

	s.usersByID[userID] = u
	return u, nil
}

// SearchUsers returns up to limit users whose display name contains q
// (case-insensitive), ordered by display name.
func (s *Store) SearchUsers(q string, limit int) []types.User {
	q = strings.ToLower(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.User
	for _, u := range s.usersByID {
		if q == "" || strings.Contains(strings.ToLower(u.DisplayName), q) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// --- Rooms ---

// CreateRoom creates a room with a globally unique, case-insensitive name.
// The creator becomes the sole owner member.
func (s *Store) CreateRoom(ownerID types.UserIDType, name string, visibility types.VisibilityType, topic string) (types.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return types.Room{}, apierr.BadRequest("room name must be 1..128 characters")
	}
	if visibility == "" {
		visibility = types.VisibilityPublic
	}
	if visibility != types.VisibilityPublic && visibility != types.VisibilityPrivate {
		return types.Room{}, apierr.BadRequest("visibility must be public or private")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(name)
	if _, exists := s.roomsByNameLower[lower]; exists {
		return types.Room{}, apierr.Conflict("room name %q already exists", name)
	}
	if _, ok := s.usersByID[ownerID]; !ok {
		return types.Room{}, apierr.NotFound("owner not found")
	}

	now := s.clock()
	rec := &roomRecord{
		room: types.Room{
			RoomID:     types.RoomIDType(ids.NewEntityID()),
			Name:       name,
			Topic:      topic,
			Visibility: visibility,
			OwnerID:    ownerID,
			CreatedAt:  ids.FormatTS(now),
		},
		members: map[types.UserIDType]*member{
			ownerID: {role: types.RoleTypeOwner, joinedAt: now, ordinal: s.nextOrdinalLocked()},
		},
		bans:  make(map[types.UserIDType]struct{}),
		mutes: make(map[types.UserIDType]struct{}),
	}
	s.roomsByID[rec.room.RoomID] = rec
	s.roomsByNameLower[lower] = rec.room.RoomID
	metrics.ActiveRooms.Inc()

	return s.snapshotLocked(rec), nil
}

// ResolveRoomKey resolves either a room_id or a room name to the room ID.
// Generated IDs are 26 Base32 characters; anything else is treated as a
// name, and Base32-shaped names are tried as IDs first.
func (s *Store) ResolveRoomKey(key string) (types.RoomIDType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ids.IsEntityID(key) {
		if _, ok := s.roomsByID[types.RoomIDType(key)]; ok {
			return types.RoomIDType(key), true
		}
	}
	id, ok := s.roomsByNameLower[strings.ToLower(key)]
	return id, ok
}

// GetRoom returns a snapshot of the room.
func (s *Store) GetRoom(roomID types.RoomIDType) (types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return types.Room{}, false
	}
	return s.snapshotLocked(rec), true
}

// RoomPatch carries mutable room fields; nil means unchanged.
type RoomPatch struct {
	Name       *string
	Topic      *string
	Visibility *types.VisibilityType
}

// UpdateRoom applies a patch. Renames recheck name uniqueness atomically
// and move the rooms_by_name_lower entry.
func (s *Store) UpdateRoom(roomID types.RoomIDType, patch RoomPatch) (types.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return types.Room{}, apierr.NotFound("room not found")
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || len(name) > 128 {
			return types.Room{}, apierr.BadRequest("room name must be 1..128 characters")
		}
		newLower := strings.ToLower(name)
		oldLower := strings.ToLower(rec.room.Name)
		if newLower != oldLower {
			if _, exists := s.roomsByNameLower[newLower]; exists {
				return types.Room{}, apierr.Conflict("room name %q already exists", name)
			}
			delete(s.roomsByNameLower, oldLower)
			s.roomsByNameLower[newLower] = roomID
		}
		rec.room.Name = name
	}
	if patch.Topic != nil {
		rec.room.Topic = *patch.Topic
	}
	if patch.Visibility != nil {
		v := *patch.Visibility
		if v != types.VisibilityPublic && v != types.VisibilityPrivate {
			return types.Room{}, apierr.BadRequest("visibility must be public or private")
		}
		rec.room.Visibility = v
	}

	return s.snapshotLocked(rec), nil
}

// SearchRooms returns up to limit public rooms whose name contains q.
// Private rooms only appear for the given member.
func (s *Store) SearchRooms(q string, limit int, viewer types.UserIDType) []types.Room {
	q = strings.ToLower(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Room
	for _, rec := range s.roomsByID {
		if rec.room.Visibility == types.VisibilityPrivate {
			if _, isMember := rec.members[viewer]; !isMember {
				continue
			}
		}
		if q == "" || strings.Contains(strings.ToLower(rec.room.Name), q) {
			out = append(out, s.snapshotLocked(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RoomsOf returns snapshots of every room the user is a member of.
func (s *Store) RoomsOf(userID types.UserIDType) []types.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Room
	for _, rec := range s.roomsByID {
		if _, ok := rec.members[userID]; ok {
			out = append(out, s.snapshotLocked(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- Membership ---

// AddMember adds a user to the room with the given role (member when
// empty). Re-adding is a no-op that preserves the existing role.
func (s *Store) AddMember(roomID types.RoomIDType, userID types.UserIDType, role types.RoleType) error {
	if role == "" {
		role = types.RoleTypeMember
	}
	if !types.ValidRole(role) {
		return apierr.BadRequest("unknown role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return apierr.NotFound("room not found")
	}
	if _, ok := s.usersByID[userID]; !ok {
		return apierr.NotFound("user not found")
	}
	if _, banned := rec.bans[userID]; banned {
		return apierr.Forbidden("user is banned from this room")
	}
	if _, exists := rec.members[userID]; exists {
		return nil
	}

	rec.members[userID] = &member{role: role, joinedAt: s.clock(), ordinal: s.nextOrdinalLocked()}
	return nil
}

// RemoveMember removes a user from the room. Removing a non-member is a
// no-op.
func (s *Store) RemoveMember(roomID types.RoomIDType, userID types.UserIDType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return apierr.NotFound("room not found")
	}
	delete(rec.members, userID)
	return nil
}

// RoleOf returns the user's role in the room; ok is false for non-members.
func (s *Store) RoleOf(roomID types.RoomIDType, userID types.UserIDType) (types.RoleType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return "", false
	}
	m, ok := rec.members[userID]
	if !ok {
		return "", false
	}
	return m.role, true
}

// SetRole changes a member's role. Only the owner may assign owner, and
// doing so transfers ownership: the previous owner becomes an admin so
// exactly one owner exists per room.
func (s *Store) SetRole(roomID types.RoomIDType, caller, target types.UserIDType, role types.RoleType) error {
	if !types.ValidRole(role) {
		return apierr.BadRequest("unknown role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return apierr.NotFound("room not found")
	}
	m, ok := rec.members[target]
	if !ok {
		return apierr.NotFound("user is not a member of this room")
	}

	if role == types.RoleTypeOwner {
		if caller != rec.room.OwnerID {
			return apierr.Forbidden("only the owner may assign owner")
		}
		if prev, ok := rec.members[rec.room.OwnerID]; ok {
			prev.role = types.RoleTypeAdmin
		}
		rec.room.OwnerID = target
	}
	m.role = role
	return nil
}

// TransferOwnershipToSenior promotes the longest-standing admin, falling
// back to the longest-standing non-owner member. Used by the promote
// owner-leave policy; returns the new owner.
func (s *Store) TransferOwnershipToSenior(roomID types.RoomIDType) (types.UserIDType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return "", apierr.NotFound("room not found")
	}

	pick := func(want types.RoleType) (types.UserIDType, bool) {
		var best types.UserIDType
		var bestOrd uint64
		found := false
		for id, m := range rec.members {
			if id == rec.room.OwnerID || m.role != want {
				continue
			}
			if !found || m.ordinal < bestOrd {
				best, bestOrd, found = id, m.ordinal, true
			}
		}
		return best, found
	}

	next, ok := pick(types.RoleTypeAdmin)
	if !ok {
		for _, want := range []types.RoleType{types.RoleTypeModerator, types.RoleTypeMember, types.RoleTypeGuest} {
			if next, ok = pick(want); ok {
				break
			}
		}
	}
	if !ok {
		return "", apierr.Conflict("no member to transfer ownership to")
	}

	rec.members[next].role = types.RoleTypeOwner
	rec.room.OwnerID = next
	return next, nil
}

// --- Moderation ---

// SetBan adds or removes a room ban. Banning also removes membership.
func (s *Store) SetBan(roomID types.RoomIDType, userID types.UserIDType, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return apierr.NotFound("room not found")
	}
	if banned {
		rec.bans[userID] = struct{}{}
		delete(rec.members, userID)
	} else {
		delete(rec.bans, userID)
	}
	return nil
}

// SetMute adds or removes a room mute. Muted members may read but not post.
func (s *Store) SetMute(roomID types.RoomIDType, userID types.UserIDType, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return apierr.NotFound("room not found")
	}
	if muted {
		rec.mutes[userID] = struct{}{}
	} else {
		delete(rec.mutes, userID)
	}
	return nil
}

// IsMuted reports whether the user is muted in the room.
func (s *Store) IsMuted(roomID types.RoomIDType, userID types.UserIDType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return false
	}
	_, muted := rec.mutes[userID]
	return muted
}

// IsBanned reports whether the user is banned from the room.
func (s *Store) IsBanned(roomID types.RoomIDType, userID types.UserIDType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return false
	}
	_, banned := rec.bans[userID]
	return banned
}

// --- Pins ---

// Pin appends a message to the room's pinned list. Pinning an already
// pinned message is a no-op; changed reports whether the list moved.
func (s *Store) Pin(roomID types.RoomIDType, messageID types.MessageIDType) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return false, apierr.NotFound("room not found")
	}
	for _, id := range rec.room.PinnedMessageIDs {
		if id == messageID {
			return false, nil
		}
	}
	rec.room.PinnedMessageIDs = append(rec.room.PinnedMessageIDs, messageID)
	return true, nil
}

// Unpin removes a message from the room's pinned list.
func (s *Store) Unpin(roomID types.RoomIDType, messageID types.MessageIDType) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.roomsByID[roomID]
	if !ok {
		return false, apierr.NotFound("room not found")
	}
	for i, id := range rec.room.PinnedMessageIDs {
		if id == messageID {
			rec.room.PinnedMessageIDs = append(rec.room.PinnedMessageIDs[:i], rec.room.PinnedMessageIDs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// --- Uploads ---

// PutBlob stores a content-addressed blob, deduplicating by CID.
func (s *Store) PutBlob(data []byte, mimeHint string) (types.UploadMeta, error) {
	if s.maxUploadBytes > 0 && int64(len(data)) > s.maxUploadBytes {
		return types.UploadMeta{}, apierr.PayloadTooLarge("blob exceeds %d bytes", s.maxUploadBytes)
	}
	if mimeHint == "" {
		mimeHint = "application/octet-stream"
	}

	cid := ids.CID(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.uploadsByCID[cid]; ok {
		return existing.meta, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	rec := &uploadRecord{
		meta: types.UploadMeta{
			CID:    cid,
			Bytes:  int64(len(data)),
			Mime:   mimeHint,
			SHA256: ids.SHA256Hex(data),
		},
		data: stored,
	}
	s.uploadsByCID[cid] = rec
	return rec.meta, nil
}

// GetBlob returns the mime type and bytes of a stored blob.
func (s *Store) GetBlob(cid string) (string, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.uploadsByCID[cid]
	if !ok {
		return "", nil, apierr.NotFound("no blob with cid %s", cid)
	}
	return rec.meta.Mime, rec.data, nil
}

// GetBlobMeta returns the stored metadata for HEAD requests.
func (s *Store) GetBlobMeta(cid string) (types.UploadMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.uploadsByCID[cid]
	if !ok {
		return types.UploadMeta{}, apierr.NotFound("no blob with cid %s", cid)
	}
	return rec.meta, nil
}

// --- internal ---

// snapshotLocked copies the room value with derived member_count and a
// copied pinned slice. Caller must hold s.mu.
func (s *Store) snapshotLocked(rec *roomRecord) types.Room {
	room := rec.room
	room.MemberCount = len(rec.members)
	room.PinnedMessageIDs = append([]types.MessageIDType(nil), rec.room.PinnedMessageIDs...)
	return room
}

func (s *Store) nextOrdinalLocked() uint64 {
	s.joinOrdinal++
	return s.joinOrdinal
}
