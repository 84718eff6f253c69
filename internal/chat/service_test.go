package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/store"
)

type delivery struct {
	userID  string
	event   string
	payload any
}

// recordingRouter captures deliveries instead of writing to connections.
type recordingRouter struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recordingRouter) Deliver(userID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{userID, event, payload})
}

func (r *recordingRouter) to(userID, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, d := range r.deliveries {
		if d.userID == userID && d.event == event {
			out = append(out, d.payload)
		}
	}
	return out
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []delivery
}

func (e *recordingEmitter) Emit(event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, delivery{event: event, payload: payload})
}

func (e *recordingEmitter) last(event string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].event == event {
			return e.events[i].payload, true
		}
	}
	return nil, false
}

type fixture struct {
	store    *store.MockStore
	router   *recordingRouter
	presence *presence.Registry
	svc      *Service
	alice    *store.User
	bob      *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:    store.NewMockStore(),
		router:   &recordingRouter{},
		presence: presence.NewRegistry(),
	}
	f.svc = NewService(f.store, f.router, f.presence, nil)

	f.alice = &store.User{Name: "Alice", Email: "alice@example.com", ProfilePic: "alice.png"}
	f.bob = &store.User{Name: "Bob", Email: "bob@example.com"}
	require.NoError(t, f.store.CreateUser(ctx, f.alice))
	require.NoError(t, f.store.CreateUser(ctx, f.bob))
	return f
}

func (f *fixture) session(userID string) (*Session, *recordingEmitter) {
	em := &recordingEmitter{}
	sess := NewSession(userID, em)
	sess.Activate()
	return sess, em
}

func TestSendMessage_DeliversThreadToBothParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _ := f.session(f.alice.ID)

	err := f.svc.SendMessage(ctx, sess, NewMessageRequest{
		Sender: f.alice.ID, Receiver: f.bob.ID, Text: "hi",
	})
	require.NoError(t, err)

	for _, userID := range []string{f.alice.ID, f.bob.ID} {
		got := f.router.to(userID, EventMessage)
		require.Len(t, got, 1)
		msgs := got[0].([]*store.Message)
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]
		assert.Equal(t, f.alice.ID, last.MsgByUserID)
		assert.Equal(t, "hi", last.Text)
		assert.False(t, last.Seen)

		sidebars := f.router.to(userID, EventConversation)
		require.Len(t, sidebars, 1)
		assert.Len(t, sidebars[0].([]SidebarEntry), 1)
	}
}

func TestSendMessage_ReversedPairReusesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceSess, _ := f.session(f.alice.ID)
	bobSess, _ := f.session(f.bob.ID)

	require.NoError(t, f.svc.SendMessage(ctx, aliceSess, NewMessageRequest{Sender: f.alice.ID, Receiver: f.bob.ID, Text: "one"}))
	require.NoError(t, f.svc.SendMessage(ctx, bobSess, NewMessageRequest{Sender: f.bob.ID, Receiver: f.alice.ID, Text: "two"}))

	assert.Equal(t, 1, f.store.ConversationCount())

	got := f.router.to(f.alice.ID, EventMessage)
	require.Len(t, got, 2)
	msgs := got[1].([]*store.Message)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _ := f.session(f.alice.ID)

	err := f.svc.SendMessage(ctx, sess, NewMessageRequest{Sender: f.alice.ID})
	assert.ErrorIs(t, err, ErrBadPayload)

	err = f.svc.SendMessage(ctx, sess, NewMessageRequest{Sender: f.bob.ID, Receiver: f.alice.ID, Text: "spoof"})
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.svc.SendMessage(ctx, sess, NewMessageRequest{
		Sender: f.alice.ID, Receiver: f.bob.ID, Text: "spoof", MsgByUserID: f.bob.ID,
	})
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.svc.SendMessage(ctx, sess, NewMessageRequest{Sender: f.alice.ID, Receiver: "ghost", Text: "hi"})
	assert.ErrorIs(t, err, ErrPeerNotFound)

	assert.Equal(t, 0, f.store.ConversationCount())
	assert.Empty(t, f.router.to(f.alice.ID, EventMessage))
}

func TestMessagePage_NoConversationReturnsEmptyList(t *testing.T) {
	f := newFixture(t)
	sess, em := f.session(f.alice.ID)
	f.presence.Add(f.bob.ID)

	require.NoError(t, f.svc.MessagePage(context.Background(), sess, f.bob.ID))

	profile, ok := em.last(EventMessageUser)
	require.True(t, ok)
	assert.Equal(t, Profile{ID: f.bob.ID, Name: "Bob", Email: "bob@example.com", Online: true}, profile)

	msgs, ok := em.last(EventMessage)
	require.True(t, ok)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestMessagePage_ReplaysHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceSess, _ := f.session(f.alice.ID)
	bobSess, em := f.session(f.bob.ID)

	require.NoError(t, f.svc.SendMessage(ctx, aliceSess, NewMessageRequest{Sender: f.alice.ID, Receiver: f.bob.ID, Text: "hello"}))
	require.NoError(t, f.svc.MessagePage(ctx, bobSess, f.alice.ID))

	got, ok := em.last(EventMessage)
	require.True(t, ok)
	msgs := got.([]*store.Message)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)

	profile, _ := em.last(EventMessageUser)
	assert.False(t, profile.(Profile).Online)
}

func TestMessagePage_UnknownPeer(t *testing.T) {
	f := newFixture(t)
	sess, em := f.session(f.alice.ID)

	err := f.svc.MessagePage(context.Background(), sess, "ghost")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	_, ok := em.last(EventMessage)
	assert.False(t, ok)
}

func TestMarkSeen_FlagsOnlyPeerMessagesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceSess, _ := f.session(f.alice.ID)
	bobSess, _ := f.session(f.bob.ID)

	require.NoError(t, f.svc.SendMessage(ctx, aliceSess, NewMessageRequest{Sender: f.alice.ID, Receiver: f.bob.ID, Text: "a1"}))
	require.NoError(t, f.svc.SendMessage(ctx, bobSess, NewMessageRequest{Sender: f.bob.ID, Receiver: f.alice.ID, Text: "b1"}))
	require.NoError(t, f.svc.SendMessage(ctx, aliceSess, NewMessageRequest{Sender: f.alice.ID, Receiver: f.bob.ID, Text: "a2"}))

	require.NoError(t, f.svc.MarkSeen(ctx, bobSess, f.alice.ID))
	conv, err := f.store.FindConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	first, err := f.store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)

	for _, m := range first {
		assert.Equal(t, m.MsgByUserID == f.alice.ID, m.Seen, m.Text)
	}

	require.NoError(t, f.svc.MarkSeen(ctx, bobSess, f.alice.ID))
	second, err := f.store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].Seen, second[i].Seen)
	}

	sidebars := f.router.to(f.bob.ID, EventConversation)
	entries := sidebars[len(sidebars)-1].([]SidebarEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].UnseenMsg)

	aliceSidebars := f.router.to(f.alice.ID, EventConversation)
	aliceEntries := aliceSidebars[len(aliceSidebars)-1].([]SidebarEntry)
	assert.Equal(t, 1, aliceEntries[0].UnseenMsg, "bob's message is still unseen by alice")
}

func TestMarkSeen_WithoutConversationIsNoop(t *testing.T) {
	f := newFixture(t)
	sess, em := f.session(f.alice.ID)

	require.NoError(t, f.svc.MarkSeen(context.Background(), sess, f.bob.ID))
	assert.Empty(t, f.router.to(f.alice.ID, EventConversation))
	assert.Empty(t, em.events)
}

func TestSidebar_RejectsOtherIdentity(t *testing.T) {
	f := newFixture(t)
	sess, em := f.session(f.alice.ID)

	err := f.svc.Sidebar(context.Background(), sess, f.bob.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.Sidebar(context.Background(), sess, ""))
	got, ok := em.last(EventConversation)
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestDispatch_RoutesEventsAndReportsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, em := f.session(f.alice.ID)

	frame, err := json.Marshal(map[string]any{
		"event": EventNewMessage,
		"data":  map[string]string{"sender": f.alice.ID, "receiver": f.bob.ID, "text": "via dispatch"},
	})
	require.NoError(t, err)
	f.svc.Dispatch(ctx, sess, frame)
	assert.Len(t, f.router.to(f.bob.ID, EventMessage), 1)

	f.svc.Dispatch(ctx, sess, []byte(`{"event":"sidebar","data":null}`))
	_, ok := em.last(EventConversation)
	assert.True(t, ok)

	f.svc.Dispatch(ctx, sess, []byte(`{"event":"dance"}`))
	got, ok := em.last(EventError)
	require.True(t, ok)
	assert.Equal(t, "dance", got.(ErrorPayload).Event)

	f.svc.Dispatch(ctx, sess, []byte(`not json`))
	got, _ = em.last(EventError)
	assert.Contains(t, got.(ErrorPayload).Message, "malformed payload")

	f.svc.Dispatch(ctx, sess, []byte(`{"event":"seen","data":42}`))
	got, _ = em.last(EventError)
	assert.Equal(t, EventSeen, got.(ErrorPayload).Event)
}

func TestDispatch_StorageFailureKeepsSessionUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, em := f.session(f.alice.ID)

	f.store.SetErr(errors.New("disk on fire"))
	f.svc.Dispatch(ctx, sess, []byte(`{"event":"message-page","data":"`+f.bob.ID+`"}`))

	got, ok := em.last(EventError)
	require.True(t, ok)
	assert.Equal(t, "internal error", got.(ErrorPayload).Message)

	f.store.SetErr(nil)
	f.svc.Dispatch(ctx, sess, []byte(`{"event":"message-page","data":"`+f.bob.ID+`"}`))
	_, ok = em.last(EventMessage)
	assert.True(t, ok)
	assert.Equal(t, StateActive, sess.State())
}

func TestDispatch_IgnoresInactiveSession(t *testing.T) {
	f := newFixture(t)
	em := &recordingEmitter{}
	sess := NewSession(f.alice.ID, em)
	sess.Close()

	f.svc.Dispatch(context.Background(), sess, []byte(`{"event":"sidebar"}`))
	assert.Empty(t, em.events)
	assert.False(t, sess.Activate())
}
