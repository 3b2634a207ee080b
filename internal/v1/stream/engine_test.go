package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrooms/orc-server/internal/v1/apierr"
	"github.com/openrooms/orc-server/internal/v1/types"
)

const (
	alice = types.UserIDType("aliceaaaaaaaaaaaaaaaaaaaaa")
	bob   = types.UserIDType("bobbbbbbbbbbbbbbbbbbbbbbbb")
)

func newTestEngine() *Engine {
	return NewEngine(4000, 20)
}

func roomKey() types.StreamKey {
	return types.RoomStreamKey("testroom22222222222222222r")
}

func post(t *testing.T, e *Engine, key types.StreamKey, author types.UserIDType, text string) types.Message {
	t.Helper()
	msg, err := e.Post(key, PostInput{AuthorID: author, Text: text})
	require.NoError(t, err)
	return msg
}

func TestPostAssignsGaplessSequence(t *testing.T) {
	e := newTestEngine()
	key := roomKey()

	for i := 1; i <= 5; i++ {
		msg := post(t, e, key, alice, "hello")
		assert.Equal(t, uint64(i), msg.Seq)
	}
}

func TestPostDefaultsContentType(t *testing.T) {
	e := newTestEngine()
	msg := post(t, e, roomKey(), alice, "hi")
	assert.Equal(t, "text/plain", msg.ContentType)
}

func TestPostRejectsOversizedText(t *testing.T) {
	e := NewEngine(10, 20)
	_, err := e.Post(roomKey(), PostInput{AuthorID: alice, Text: "this text is longer than ten bytes"})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeBadRequest))
}

func TestPostParentMustResolveInSameStream(t *testing.T) {
	e := newTestEngine()
	key := roomKey()
	parent := post(t, e, key, alice, "root")

	reply, err := e.Post(key, PostInput{AuthorID: bob, Text: "reply", ParentID: parent.MessageID})
	require.NoError(t, err)
	assert.Equal(t, parent.MessageID, reply.ParentID)

	other := types.DMStreamKey(alice, bob)
	_, err = e.Post(other, PostInput{AuthorID: alice, Text: "cross", ParentID: parent.MessageID})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeBadRequest))
}

func TestTimestampsMonotonicWithBackwardsClock(t *testing.T) {
	e := newTestEngine()
	key := roomKey()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	idx := 0
	e.SetClock(func() time.Time {
		t := times[idx%len(times)]
		idx++
		return t
	})

	var prev string
	for i := 0; i < 3; i++ {
		msg := post(t, e, key, alice, "x")
		if prev != "" {
			assert.GreaterOrEqual(t, msg.TS, prev, "ts must never move backwards within a stream")
		}
		prev = msg.TS
	}
}

func TestConcurrentPostsYieldUniqueDenseSequence(t *testing.T) {
	e := newTestEngine()
	key := roomKey()

	const posters = 2
	const perPoster = 50

	var wg sync.WaitGroup
	seqs := make(chan uint64, posters*perPoster)
	for p := 0; p < posters; p++ {
		author := alice
		if p == 1 {
			author = bob
		}
		wg.Add(1)
		go func(author types.UserIDType) {
			defer wg.Done()
			for i := 0; i < perPoster; i++ {
				msg, err := e.Post(key, PostInput{AuthorID: author, Text: "m"})
				assert.NoError(t, err)
				seqs <- msg.Seq
			}
		}(author)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "seq %d allocated twice", seq)
		seen[seq] = true
	}
	require.Len(t, seen, posters*perPoster)
	for i := uint64(1); i <= posters*perPoster; i++ {
		assert.True(t, seen[i], "seq %d missing", i)
	}
}

func TestEditOnlyByAuthor(t *testing.T) {
	e := newTestEngine()
	msg := post(t, e, roomKey(), alice, "original")

	newText := "changed"
	_, err := e.Edit(msg.MessageID, bob, &newText, nil)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeForbidden))

	edited, err := e.Edit(msg.MessageID, alice, &newText, nil)
	require.NoError(t, err)
	assert.Equal(t, "changed", edited.Text)
	assert.NotEmpty(t, edited.EditedAt)
	assert.Equal(t, msg.Seq, edited.Seq)
}

func TestTombstonePermanence(t *testing.T) {
	e := newTestEngine()
	key := roomKey()
	msg := post(t, e, key, alice, "secret")

	deleted, err := e.Tombstone(msg.MessageID, alice, false, "")
	require.NoError(t, err)
	assert.True(t, deleted.Tombstone)
	assert.Empty(t, deleted.Text, "tombstoned text must never be exposed")
	assert.Equal(t, msg.Seq, deleted.Seq, "tombstone preserves the sequence position")

	newText := "resurrect"
	_, err = e.Edit(msg.MessageID, alice, &newText, nil)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeForbidden))

	msgs, _, err := e.ForwardRead(key, 1, 10, bob)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Tombstone)
	assert.Empty(t, msgs[0].Text)
}

func TestTombstoneRequiresAuthorOrModerator(t *testing.T) {
	e := newTestEngine()
	msg := post(t, e, roomKey(), alice, "hi")

	_, err := e.Tombstone(msg.MessageID, bob, false, "")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeForbidden))

	deleted, err := e.Tombstone(msg.MessageID, bob, true, "spam")
	require.NoError(t, err)
	assert.True(t, deleted.Tombstone)
	assert.Equal(t, "spam", deleted.ModerationReason)
}

func TestReactionIdempotence(t *testing.T) {
	e := newTestEngine()
	msg := post(t, e, roomKey(), alice, "hi")

	counts, err := e.React(msg.MessageID, bob, "👍", true)
	require.NoError(t, err)
	counts, err = e.React(msg.MessageID, bob, "👍", true)
	require.NoError(t, err)

	require.Len(t, counts, 1)
	assert.Equal(t, "👍", counts[0].Emoji)
	assert.Equal(t, 1, counts[0].Count)
	assert.True(t, counts[0].Me)
}

func TestReactionRemoveAndPerspective(t *testing.T) {
	e := newTestEngine()
	msg := post(t, e, roomKey(), alice, "hi")

	_, err := e.React(msg.MessageID, alice, "🎉", true)
	require.NoError(t, err)
	counts, err := e.React(msg.MessageID, bob, "🎉", true)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 2, counts[0].Count)
	assert.True(t, counts[0].Me)

	snap, err := e.Snapshot(msg.MessageID, alice)
	require.NoError(t, err)
	require.Len(t, snap.Reactions, 1)
	assert.True(t, snap.Reactions[0].Me)

	counts, err = e.React(msg.MessageID, bob, "🎉", false)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 1, counts[0].Count)
	assert.False(t, counts[0].Me, "bob removed his reaction")

	counts, err = e.React(msg.MessageID, alice, "🎉", false)
	require.NoError(t, err)
	assert.Empty(t, counts, "emoji disappears when its last reactor leaves")
}

func TestReactionDistinctEmojiCap(t *testing.T) {
	e := NewEngine(4000, 2)
	msg := post(t, e, roomKey(), alice, "hi")

	_, err := e.React(msg.MessageID, alice, "a", true)
	require.NoError(t, err)
	_, err = e.React(msg.MessageID, alice, "b", true)
	require.NoError(t, err)
	_, err = e.React(msg.MessageID, alice, "c", true)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeBadRequest))
}

func TestForwardReadRoundTrip(t *testing.T) {
	e := newTestEngine()
	key := roomKey()
	const n = 10
	for i := 0; i < n; i++ {
		post(t, e, key, alice, "m")
	}

	msgs, nextSeq, err := e.ForwardRead(key, 1, n, bob)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, msg := range msgs {
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
	assert.Equal(t, uint64(n+1), nextSeq)
}

func TestForwardReadPaging(t *testing.T) {
	e := newTestEngine()
	key := roomKey()
	for i := 0; i < 5; i++ {
		post(t, e, key, alice, "m")
	}

	msgs, nextSeq, err := e.ForwardRead(key, 1, 2, bob)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(3), nextSeq)

	msgs, nextSeq, err = e.ForwardRead(key, nextSeq, 10, bob)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, uint64(6), nextSeq)
}

func TestBackfillReadAscendingWindow(t *testing.T) {
	e := newTestEngine()
	key := roomKey()
	for i := 0; i < 5; i++ {
		post(t, e, key, alice, "m")
	}

	msgs, prevSeq, err := e.BackfillRead(key, 0, 2, bob)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(4), msgs[0].Seq)
	assert.Equal(t, uint64(5), msgs[1].Seq)
	assert.Equal(t, uint64(4), prevSeq)

	msgs, prevSeq, err = e.BackfillRead(key, prevSeq, 10, bob)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, uint64(1), msgs[0].Seq)
	assert.Equal(t, uint64(1), prevSeq)
}

func TestPrunedRangeSurfacesHistoryPruned(t *testing.T) {
	e := newTestEngine()
	key := roomKey()
	for i := 0; i < 10; i++ {
		post(t, e, key, alice, "m")
	}

	dropped := e.Prune(key, 5)
	assert.Equal(t, 5, dropped)

	_, _, err := e.ForwardRead(key, 3, 10, bob)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeHistoryPruned))

	msgs, nextSeq, err := e.ForwardRead(key, 6, 10, bob)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, uint64(6), msgs[0].Seq)
	assert.Equal(t, uint64(11), nextSeq)

	_, _, err = e.BackfillRead(key, 6, 10, bob)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeHistoryPruned))
}

func TestCursorMonotonicity(t *testing.T) {
	e := newTestEngine()
	key := roomKey()

	e.SetCursor(key, alice, 7)
	e.SetCursor(key, alice, 3)
	assert.Equal(t, uint64(7), e.GetCursor(key, alice))

	e.SetCursor(key, alice, 9)
	assert.Equal(t, uint64(9), e.GetCursor(key, alice))

	assert.Equal(t, uint64(0), e.GetCursor(key, bob))
}

func TestDMSnapshotPeerIsRelativeToReader(t *testing.T) {
	e := newTestEngine()
	key := types.DMStreamKey(alice, bob)
	msg := post(t, e, key, alice, "hi bob")

	fromAlice, err := e.Snapshot(msg.MessageID, alice)
	require.NoError(t, err)
	assert.Equal(t, bob, fromAlice.DMPeerID)
	assert.Empty(t, fromAlice.RoomID)

	fromBob, err := e.Snapshot(msg.MessageID, bob)
	require.NoError(t, err)
	assert.Equal(t, alice, fromBob.DMPeerID)
}

func TestDMStreamKeyCanonical(t *testing.T) {
	assert.Equal(t, types.DMStreamKey(alice, bob), types.DMStreamKey(bob, alice))
}
