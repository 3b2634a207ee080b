// Package stream owns the per-stream ordered message logs: sequence
// allocation, append, edits, tombstones, reactions, read cursors and range
// reads. Every mutation returns the canonical message snapshot the
// orchestrator publishes.
package stream

import (
	"time"

	"sync"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/ids"
	"github.com/openrooms/orc-server/internal/v1/metrics"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// record is the internal mutable form of a message. Tombstoned records
// keep their original text for moderation; snapshots never expose it.
type record struct {
	messageID        types.MessageIDType
	authorID         types.UserIDType
	seq              uint64
	ts               time.Time
	parentID         types.MessageIDType
	contentType      string
	text             string
	attachments      []types.Attachment
	tombstone        bool
	editedAt         time.Time
	moderationReason string

	// reactions: insertion-ordered emoji list plus per-emoji user sets.
	emojiOrder []string
	reactors   map[string]map[types.UserIDType]struct{}
}

type stream struct {
	mu      sync.Mutex
	key     types.StreamKey
	msgs    []*record // ascending seq; msgs[0].seq == floorSeq+1 after pruning
	nextSeq uint64
	// floorSeq is the highest pruned sequence number; 0 when nothing has
	// been pruned. Reads at or below the floor surface history_pruned.
	floorSeq uint64
	cursors  map[types.UserIDType]uint64
	byID     map[types.MessageIDType]*record
	lastTS   time.Time
}

// Engine is the stream engine. The outer lock only guards the stream map;
// each stream linearizes its own mutations under its own lock.
type Engine struct {
	mu      sync.RWMutex
	streams map[types.StreamKey]*stream

	// index for message-addressed operations (edit/tombstone/react)
	idxMu       sync.RWMutex
	streamOfMsg map[types.MessageIDType]types.StreamKey

	clock                  func() time.Time
	maxMessageBytes        int
	maxReactionsPerMessage int
}

// NewEngine creates a stream engine with the given limits.
func NewEngine(maxMessageBytes, maxReactionsPerMessage int) *Engine {
	return &Engine{
		streams:                make(map[types.StreamKey]*stream),
		streamOfMsg:            make(map[types.MessageIDType]types.StreamKey),
		clock:                  time.Now,
		maxMessageBytes:        maxMessageBytes,
		maxReactionsPerMessage: maxReactionsPerMessage,
	}
}

// SetClock overrides the wall clock; tests use this to pin timestamps.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

func (e *Engine) get(key types.StreamKey) *stream {
	e.mu.RLock()
	st, ok := e.streams[key]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.streams[key]; ok {
		return st
	}
	st = &stream{
		key:     key,
		nextSeq: 1,
		cursors: make(map[types.UserIDType]uint64),
		byID:    make(map[types.MessageIDType]*record),
	}
	e.streams[key] = st
	return st
}

// PostInput carries the validated fields of a post operation.
type PostInput struct {
	AuthorID    types.UserIDType
	Text        string
	ContentType string
	ParentID    types.MessageIDType
	Attachments []types.Attachment
}

// Post allocates the next sequence number, stamps a stream-monotonic
// timestamp, appends, and returns the canonical message snapshot.
func (e *Engine) Post(key types.StreamKey, in PostInput) (types.Message, error) {
	if len(in.Text) > e.maxMessageBytes {
		return types.Message{}, apierr.BadRequest("text exceeds %d bytes", e.maxMessageBytes)
	}
	if in.ContentType == "" {
		in.ContentType = "text/plain"
	}

	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if in.ParentID != "" {
		if _, ok := st.byID[in.ParentID]; !ok {
			return types.Message{}, apierr.BadRequest("parent_id does not resolve to a message in this stream")
		}
	}

	rec := &record{
		messageID:   types.MessageIDType(ids.NewEntityID()),
		authorID:    in.AuthorID,
		seq:         st.nextSeq,
		ts:          st.monotonicNowLocked(e.clock),
		parentID:    in.ParentID,
		contentType: in.ContentType,
		text:        in.Text,
		attachments: append([]types.Attachment(nil), in.Attachments...),
		reactors:    make(map[string]map[types.UserIDType]struct{}),
	}
	st.nextSeq++
	st.msgs = append(st.msgs, rec)
	st.byID[rec.messageID] = rec

	e.idxMu.Lock()
	e.streamOfMsg[rec.messageID] = key
	e.idxMu.Unlock()

	kind := "room"
	if key.IsDM() {
		kind = "dm"
	}
	metrics.MessagesPosted.WithLabelValues(kind).Inc()

	return st.snapshotLocked(rec, in.AuthorID), nil
}

// StreamOf returns the stream containing the message.
func (e *Engine) StreamOf(messageID types.MessageIDType) (types.StreamKey, bool) {
	e.idxMu.RLock()
	defer e.idxMu.RUnlock()
	key, ok := e.streamOfMsg[messageID]
	return key, ok
}

// AuthorOf returns the author of a message without exposing the record.
func (e *Engine) AuthorOf(messageID types.MessageIDType) (types.UserIDType, bool) {
	key, ok := e.StreamOf(messageID)
	if !ok {
		return "", false
	}
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	rec, ok := st.byID[messageID]
	if !ok {
		return "", false
	}
	return rec.authorID, true
}

// Edit updates text/attachments of the caller's own message. Sequence and
// timestamp are unchanged; tombstoned messages cannot be edited.
func (e *Engine) Edit(messageID types.MessageIDType, caller types.UserIDType, text *string, attachments []types.Attachment) (types.Message, error) {
	key, ok := e.StreamOf(messageID)
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.byID[messageID]
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}
	if rec.authorID != caller {
		return types.Message{}, apierr.Forbidden("only the author may edit a message")
	}
	if rec.tombstone {
		return types.Message{}, apierr.Forbidden("message is deleted")
	}

	if text != nil {
		if len(*text) > e.maxMessageBytes {
			return types.Message{}, apierr.BadRequest("text exceeds %d bytes", e.maxMessageBytes)
		}
		rec.text = *text
	}
	if attachments != nil {
		rec.attachments = append([]types.Attachment(nil), attachments...)
	}
	rec.editedAt = st.monotonicNowLocked(e.clock)

	return st.snapshotLocked(rec, caller), nil
}

// Tombstone marks a message deleted, preserving its sequence position.
// canModerate grants delete rights beyond the author (resolved by the
// orchestrator from the caller's room role).
func (e *Engine) Tombstone(messageID types.MessageIDType, caller types.UserIDType, canModerate bool, reason string) (types.Message, error) {
	key, ok := e.StreamOf(messageID)
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.byID[messageID]
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}
	if rec.authorID != caller && !canModerate {
		return types.Message{}, apierr.Forbidden("not allowed to delete this message")
	}

	rec.tombstone = true
	rec.moderationReason = reason

	return st.snapshotLocked(rec, caller), nil
}

// React adds or removes the caller's reaction. Adding is idempotent; the
// returned summary carries every emoji with counts, ordered by first use.
func (e *Engine) React(messageID types.MessageIDType, caller types.UserIDType, emoji string, add bool) ([]types.ReactionCount, error) {
	if emoji == "" {
		return nil, apierr.BadRequest("emoji is required")
	}

	key, ok := e.StreamOf(messageID)
	if !ok {
		return nil, apierr.NotFound("message not found")
	}
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.byID[messageID]
	if !ok {
		return nil, apierr.NotFound("message not found")
	}
	if rec.tombstone {
		return nil, apierr.NotFound("message is deleted")
	}

	if add {
		users, exists := rec.reactors[emoji]
		if !exists {
			if len(rec.emojiOrder) >= e.maxReactionsPerMessage {
				return nil, apierr.BadRequest("message already has %d distinct reactions", e.maxReactionsPerMessage)
			}
			users = make(map[types.UserIDType]struct{})
			rec.reactors[emoji] = users
			rec.emojiOrder = append(rec.emojiOrder, emoji)
		}
		users[caller] = struct{}{}
	} else {
		if users, exists := rec.reactors[emoji]; exists {
			delete(users, caller)
			if len(users) == 0 {
				delete(rec.reactors, emoji)
				for i, em := range rec.emojiOrder {
					if em == emoji {
						rec.emojiOrder = append(rec.emojiOrder[:i], rec.emojiOrder[i+1:]...)
						break
					}
				}
			}
		}
	}

	return rec.reactionSummary(caller), nil
}

// Snapshot returns the public form of a single message as seen by reader.
func (e *Engine) Snapshot(messageID types.MessageIDType, reader types.UserIDType) (types.Message, error) {
	key, ok := e.StreamOf(messageID)
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.byID[messageID]
	if !ok {
		return types.Message{}, apierr.NotFound("message not found")
	}
	return st.snapshotLocked(rec, reader), nil
}

// ForwardRead returns messages with seq >= fromSeq, ascending, at most
// limit, plus the next fromSeq to poll with.
func (e *Engine) ForwardRead(key types.StreamKey, fromSeq uint64, limit int, reader types.UserIDType) ([]types.Message, uint64, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	if limit <= 0 {
		limit = 100
	}

	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if fromSeq <= st.floorSeq {
		return nil, 0, apierr.HistoryPruned("messages below seq %d have been pruned", st.floorSeq+1)
	}

	out := make([]types.Message, 0, limit)
	for _, rec := range st.msgs {
		if rec.seq < fromSeq {
			continue
		}
		out = append(out, st.snapshotLocked(rec, reader))
		if len(out) == limit {
			break
		}
	}

	nextSeq := st.nextSeq
	if len(out) > 0 {
		nextSeq = out[len(out)-1].Seq + 1
	}
	return out, nextSeq, nil
}

// BackfillRead returns the last limit messages with seq < beforeSeq, in
// ascending order, plus the prevSeq anchor for the next page (0 when the
// page is empty).
func (e *Engine) BackfillRead(key types.StreamKey, beforeSeq uint64, limit int, reader types.UserIDType) ([]types.Message, uint64, error) {
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if beforeSeq == 0 {
		beforeSeq = st.nextSeq
	}
	if limit <= 0 {
		limit = 100
	}

	if st.floorSeq > 0 && beforeSeq <= st.floorSeq+1 {
		return nil, 0, apierr.HistoryPruned("messages below seq %d have been pruned", st.floorSeq+1)
	}

	// Find the window [start, end) of records with seq < beforeSeq.
	end := len(st.msgs)
	for end > 0 && st.msgs[end-1].seq >= beforeSeq {
		end--
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]types.Message, 0, end-start)
	for _, rec := range st.msgs[start:end] {
		out = append(out, st.snapshotLocked(rec, reader))
	}

	var prevSeq uint64
	if len(out) > 0 {
		prevSeq = out[0].Seq
	}
	return out, prevSeq, nil
}

// SetCursor advances the user's cursor; cursors only move forward.
func (e *Engine) SetCursor(key types.StreamKey, userID types.UserIDType, seq uint64) {
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if seq > st.cursors[userID] {
		st.cursors[userID] = seq
	}
}

// GetCursor returns the user's cursor, 0 when never set.
func (e *Engine) GetCursor(key types.StreamKey, userID types.UserIDType) uint64 {
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cursors[userID]
}

// NextSeq exposes the stream's next sequence number (for ready/diagnostics).
func (e *Engine) NextSeq(key types.StreamKey) uint64 {
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.nextSeq
}

// Prune drops retained history at or below upToSeq. Sequence numbers are
// never reused; subsequent reads inside the pruned range fail with
// history_pruned.
func (e *Engine) Prune(key types.StreamKey, upToSeq uint64) int {
	st := e.get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	cut := 0
	for cut < len(st.msgs) && st.msgs[cut].seq <= upToSeq {
		cut++
	}
	if cut == 0 {
		return 0
	}

	e.idxMu.Lock()
	for _, rec := range st.msgs[:cut] {
		delete(st.byID, rec.messageID)
		delete(e.streamOfMsg, rec.messageID)
	}
	e.idxMu.Unlock()

	if st.msgs[cut-1].seq > st.floorSeq {
		st.floorSeq = st.msgs[cut-1].seq
	}
	st.msgs = append([]*record(nil), st.msgs[cut:]...)
	return cut
}

// --- internal ---

// monotonicNowLocked returns a wall timestamp that never regresses within
// the stream, so ts order always agrees with seq order.
func (st *stream) monotonicNowLocked(clock func() time.Time) time.Time {
	now := clock()
	if now.Before(st.lastTS) {
		now = st.lastTS
	}
	st.lastTS = now
	return now
}

// snapshotLocked renders the public form of a record. The text of a
// tombstoned message is never exposed.
func (st *stream) snapshotLocked(rec *record, reader types.UserIDType) types.Message {
	msg := types.Message{
		MessageID:   rec.messageID,
		AuthorID:    rec.authorID,
		Seq:         rec.seq,
		TS:          ids.FormatTS(rec.ts),
		ParentID:    rec.parentID,
		ContentType: rec.contentType,
		Tombstone:   rec.tombstone,
	}

	if roomID := st.key.RoomID(); roomID != "" {
		msg.RoomID = roomID
	} else if a, b, ok := st.key.DMPair(); ok {
		// dm_peer_id is relative to the reader when the reader is one of
		// the pair, otherwise relative to the author.
		rel := reader
		if rel != a && rel != b {
			rel = rec.authorID
		}
		if rel == a {
			msg.DMPeerID = b
		} else {
			msg.DMPeerID = a
		}
	}

	if !rec.tombstone {
		msg.Text = rec.text
		msg.Attachments = append([]types.Attachment(nil), rec.attachments...)
	} else {
		msg.ModerationReason = rec.moderationReason
	}
	if !rec.editedAt.IsZero() {
		msg.EditedAt = ids.FormatTS(rec.editedAt)
	}
	if len(rec.emojiOrder) > 0 {
		msg.Reactions = rec.reactionSummary(reader)
	}
	return msg
}

func (rec *record) reactionSummary(reader types.UserIDType) []types.ReactionCount {
	out := make([]types.ReactionCount, 0, len(rec.emojiOrder))
	for _, emoji := range rec.emojiOrder {
		users := rec.reactors[emoji]
		_, me := users[reader]
		out = append(out, types.ReactionCount{Emoji: emoji, Count: len(users), Me: me})
	}
	return out
}
