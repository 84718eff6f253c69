package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateUser is returned when a user with the same email exists.
	ErrDuplicateUser = errors.New("user already exists")
)

// User is a registered identity with its public display attributes.
type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	ProfilePic   string    `json:"profile_pic"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Conversation is the thread between an unordered pair of users. Sender is
// whoever wrote the first message.
type Conversation struct {
	ID        string    `json:"_id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID string) string {
	if c.Sender == userID {
		return c.Receiver
	}
	return c.Sender
}

// Message is a single entry in a conversation. Seq increases with insertion
// order and defines the conversation order.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"-"`
	Seq            int64     `json:"-"`
	Text           string    `json:"text,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	VideoURL       string    `json:"videoUrl,omitempty"`
	MsgByUserID    string    `json:"msgByUserId"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UserStore persists registered users.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// Store is the conversation store consumed by the chat core.
type Store interface {
	UserStore

	// FindConversation returns the conversation between a and b in either
	// order, or ErrNotFound.
	FindConversation(ctx context.Context, a, b string) (*Conversation, error)

	// FindOrCreateConversation returns the conversation between sender and
	// receiver, creating it when absent. Concurrent callers for the same
	// pair always observe the same conversation.
	FindOrCreateConversation(ctx context.Context, sender, receiver string) (*Conversation, error)

	// AppendMessage stores msg at the end of the conversation and bumps the
	// conversation's UpdatedAt.
	AppendMessage(ctx context.Context, conversationID string, msg *Message) error

	// ListMessages returns the conversation's messages in insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// MarkSeen flags every message in the conversation sent by senderID as
	// seen and returns how many changed.
	MarkSeen(ctx context.Context, conversationID, senderID string) (int64, error)

	// ListConversations returns userID's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	Close() error
}

// PairKey canonicalizes an unordered pair of user ids.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
