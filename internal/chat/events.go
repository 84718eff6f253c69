package chat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// Client to server events.
const (
	EventMessagePage = "message-page"
	EventNewMessage  = "new message"
	EventSidebar     = "sidebar"
	EventSeen        = "seen"
)

// Server to client events.
const (
	EventOnlineUser   = "onlineUser"
	EventMessageUser  = "message-user"
	EventMessage      = "message"
	EventConversation = "conversation"
	EventError        = "error"
)

// Handler errors surfaced to the originating connection.
var (
	ErrBadPayload   = errors.New("malformed payload")
	ErrUnknownEvent = errors.New("unknown event")
	ErrForbidden    = errors.New("identity mismatch")
	ErrPeerNotFound = errors.New("user not found")
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessageRequest is the payload of a "new message" event.
type NewMessageRequest struct {
	Sender      string `json:"sender" validate:"required"`
	Receiver    string `json:"receiver" validate:"required"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl" validate:"omitempty,max=2048"`
	VideoURL    string `json:"videoUrl" validate:"omitempty,max=2048"`
	MsgByUserID string `json:"msgByUserId"`
}

// Profile is a user's public profile together with live presence.
type Profile struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ProfilePic string `json:"profile_pic"`
	Online     bool   `json:"online"`
}

func profileOf(u *store.User, online bool) Profile {
	return Profile{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		Online:     online,
	}
}

// SidebarEntry summarizes one conversation for the requesting user.
type SidebarEntry struct {
	ID          string         `json:"_id"`
	UserDetails Profile        `json:"userDetails"`
	UnseenMsg   int            `json:"unseenMsg"`
	LastMsg     *store.Message `json:"lastMsg"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ErrorPayload is sent with EventError.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
