package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu            sync.Mutex
	users         map[string]*User
	conversations map[string]*Conversation // pair key -> conversation
	messages      map[string][]*Message    // conversation id -> messages
	seq           int64
	clock         int64

	// err, when set, is returned by every conversation operation.
	err error
}

var _ Store = (*MockStore)(nil)

// NewMockStore returns an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// now returns strictly increasing timestamps so ordering by UpdatedAt is
// deterministic in tests.
func (m *MockStore) now() time.Time {
	m.clock++
	return time.Unix(0, m.clock).UTC()
}

func (m *MockStore) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicateUser
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MockStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) FindConversation(_ context.Context, a, b string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.conversations[PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockStore) FindOrCreateConversation(_ context.Context, sender, receiver string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	key := PairKey(sender, receiver)
	c, ok := m.conversations[key]
	if !ok {
		now := m.now()
		c = &Conversation{
			ID:        uuid.New().String(),
			Sender:    sender,
			Receiver:  receiver,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.conversations[key] = c
	}
	cp := *c
	return &cp, nil
}

func (m *MockStore) AppendMessage(_ context.Context, conversationID string, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	conv := m.byID(conversationID)
	if conv == nil {
		return ErrNotFound
	}

	now := m.now()
	m.seq++
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.Seq = m.seq
	msg.ConversationID = conversationID
	conv.UpdatedAt = now

	cp := *msg
	m.messages[conversationID] = append(m.messages[conversationID], &cp)
	return nil
}

func (m *MockStore) ListMessages(_ context.Context, conversationID string) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	stored := m.messages[conversationID]
	out := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) MarkSeen(_ context.Context, conversationID, senderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, msg := range m.messages[conversationID] {
		if msg.MsgByUserID == senderID && !msg.Seen {
			msg.Seen = true
			msg.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *MockStore) ListConversations(_ context.Context, userID string) ([]*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	out := make([]*Conversation, 0)
	for _, c := range m.conversations {
		if c.Sender == userID || c.Receiver == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}

// ConversationCount returns the number of stored conversations.
func (m *MockStore) ConversationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

// SetErr makes subsequent conversation operations fail with err.
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockStore) byID(id string) *Conversation {
	for _, c := range m.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}
