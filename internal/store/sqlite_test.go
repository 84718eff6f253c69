package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Users(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	u := &User{Name: "Alice", Email: "alice@example.com", ProfilePic: "a.png", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "a.png", got.ProfilePic)
	assert.Equal(t, "hash", got.PasswordHash)

	byEmail, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	err = s.CreateUser(ctx, &User{Name: "Other", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ConversationReusedForReversedPair(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.FindConversation(ctx, "a", "b")
	require.ErrorIs(t, err, ErrNotFound)

	first, err := s.FindOrCreateConversation(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "a", first.Sender)
	assert.Equal(t, "b", first.Receiver)

	second, err := s.FindOrCreateConversation(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "reversed pair must reuse the conversation")

	found, err := s.FindConversation(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestSQLiteStore_ConcurrentFindOrCreateCreatesOne(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const workers = 20
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sender, receiver := "a", "b"
			if n%2 == 1 {
				sender, receiver = receiver, sender
			}
			c, err := s.FindOrCreateConversation(ctx, sender, receiver)
			if assert.NoError(t, err) {
				ids[n] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	convs, err := s.ListConversations(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestSQLiteStore_MessagesKeepInsertionOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateConversation(ctx, "a", "b")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.AppendMessage(ctx, conv.ID, &Message{Text: text, MsgByUserID: "a"}))
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "three", msgs[2].Text)
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)
	assert.False(t, msgs[2].Seen)

	err = s.AppendMessage(ctx, "missing", &Message{Text: "x", MsgByUserID: "a"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_MarkSeenOnlyAffectsSender(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateConversation(ctx, "a", "b")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, conv.ID, &Message{Text: "from a", MsgByUserID: "a"}))
	require.NoError(t, s.AppendMessage(ctx, conv.ID, &Message{Text: "from b", MsgByUserID: "b"}))
	require.NoError(t, s.AppendMessage(ctx, conv.ID, &Message{Text: "again a", MsgByUserID: "a"}))

	n, err := s.MarkSeen(ctx, conv.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.MarkSeen(ctx, conv.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second mark is a no-op")

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, m.MsgByUserID == "a", m.Seen, m.Text)
	}
}

func TestSQLiteStore_ListConversationsMostRecentFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ab, err := s.FindOrCreateConversation(ctx, "a", "b")
	require.NoError(t, err)
	ac, err := s.FindOrCreateConversation(ctx, "c", "a")
	require.NoError(t, err)
	_, err = s.FindOrCreateConversation(ctx, "b", "c")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, ac.ID, &Message{Text: "hi", MsgByUserID: "c"}))
	require.NoError(t, s.AppendMessage(ctx, ab.ID, &Message{Text: "hi", MsgByUserID: "a"}))

	convs, err := s.ListConversations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, ab.ID, convs[0].ID)
	assert.Equal(t, ac.ID, convs[1].ID)
	assert.Equal(t, "c", convs[1].Peer("a"))
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("x", "y"), PairKey("y", "x"))
	assert.NotEqual(t, PairKey("x", "y"), PairKey("x", "z"))
}
