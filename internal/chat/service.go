// Package chat implements the per-connection session coordinator: history
// replay, message submission, sidebar summaries and read receipts, fanned
// out through a Router to every live connection of the affected users.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// Router delivers an event to every live connection of a user. Delivery to
// a user with no connections is dropped.
type Router interface {
	Deliver(userID, event string, payload any)
}

const pairLockStripes = 64

// Service handles client events for authenticated sessions.
type Service struct {
	store      store.Store
	router     Router
	presence   PresenceReader
	aggregator *Aggregator
	validate   *validator.Validate
	logger     *slog.Logger

	// pairLocks serialize mutations of a conversation so the snapshots
	// fanned out for it leave in commit order.
	pairLocks [pairLockStripes]sync.Mutex
}

// NewService creates a Service. Pass nil logger for default.
func NewService(s store.Store, router Router, presence PresenceReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      s,
		router:     router,
		presence:   presence,
		aggregator: NewAggregator(s, presence),
		validate:   validator.New(),
		logger:     logger.With("component", "chat"),
	}
}

// Aggregator returns the sidebar aggregator used by the service.
func (s *Service) Aggregator() *Aggregator {
	return s.aggregator
}

// Dispatch decodes one raw frame and runs the matching handler. Failures
// are logged and reported to the session as an error event; they never end
// the session.
func (s *Service) Dispatch(ctx context.Context, sess *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.fail(sess, "", fmt.Errorf("%w: %v", ErrBadPayload, err))
		return
	}

	if sess.State() != StateActive {
		s.logger.Warn("event on inactive session",
			"user_id", sess.UserID, "event", env.Event, "state", sess.State().String())
		return
	}

	var err error
	switch env.Event {
	case EventMessagePage:
		var peerID string
		if err = decodeString(env.Data, &peerID); err == nil {
			err = s.MessagePage(ctx, sess, peerID)
		}
	case EventNewMessage:
		var req NewMessageRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			err = fmt.Errorf("%w: %v", ErrBadPayload, err)
		} else {
			err = s.SendMessage(ctx, sess, req)
		}
	case EventSidebar:
		var requester string
		if len(env.Data) > 0 && string(env.Data) != "null" {
			err = decodeString(env.Data, &requester)
		}
		if err == nil {
			err = s.Sidebar(ctx, sess, requester)
		}
	case EventSeen:
		var peerID string
		if err = decodeString(env.Data, &peerID); err == nil {
			err = s.MarkSeen(ctx, sess, peerID)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if err != nil {
		s.fail(sess, env.Event, err)
	}
}

// MessagePage sends the peer's profile and the full conversation history
// to the requesting connection. A missing conversation yields an empty list.
func (s *Service) MessagePage(ctx context.Context, sess *Session, peerID string) error {
	peer, err := s.store.GetUser(ctx, peerID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	if err != nil {
		return fmt.Errorf("loading peer: %w", err)
	}
	sess.Emit(EventMessageUser, profileOf(peer, s.presence.IsOnline(peerID)))

	messages := []*store.Message{}
	conv, err := s.store.FindConversation(ctx, sess.UserID, peerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("finding conversation: %w", err)
	default:
		if messages, err = s.store.ListMessages(ctx, conv.ID); err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}
	}

	sess.Emit(EventMessage, messages)
	return nil
}

// SendMessage appends a message to the sender/receiver conversation,
// creating it on first use, then fans out the full thread and both
// participants' sidebars.
func (s *Service) SendMessage(ctx context.Context, sess *Session, req NewMessageRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if req.Sender != sess.UserID {
		return fmt.Errorf("%w: sender %s", ErrForbidden, req.Sender)
	}
	if req.MsgByUserID != "" && req.MsgByUserID != sess.UserID {
		return fmt.Errorf("%w: msgByUserId %s", ErrForbidden, req.MsgByUserID)
	}
	if req.Text == "" && req.ImageURL == "" && req.VideoURL == "" {
		s.logger.Debug("empty message accepted", "sender", req.Sender, "receiver", req.Receiver)
	}

	if _, err := s.store.GetUser(ctx, req.Receiver); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPeerNotFound, req.Receiver)
		}
		return fmt.Errorf("loading receiver: %w", err)
	}

	unlock := s.lockPair(req.Sender, req.Receiver)
	defer unlock()

	conv, err := s.store.FindOrCreateConversation(ctx, req.Sender, req.Receiver)
	if err != nil {
		return fmt.Errorf("finding conversation: %w", err)
	}

	msg := &store.Message{
		Text:        req.Text,
		ImageURL:    req.ImageURL,
		VideoURL:    req.VideoURL,
		MsgByUserID: req.Sender,
	}
	if err := s.store.AppendMessage(ctx, conv.ID, msg); err != nil {
		return fmt.Errorf("saving message: %w", err)
	}

	messages, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	s.logger.Debug("message stored",
		"conversation_id", conv.ID, "message_id", msg.ID, "sender", req.Sender, "receiver", req.Receiver)

	for _, userID := range participants(req.Sender, req.Receiver) {
		s.router.Deliver(userID, EventMessage, messages)
	}
	return s.pushSidebars(ctx, req.Sender, req.Receiver)
}

// Sidebar sends the requesting user's conversation summary to this
// connection. requester may be empty; otherwise it must name the session's
// own identity.
func (s *Service) Sidebar(ctx context.Context, sess *Session, requester string) error {
	if requester != "" && requester != sess.UserID {
		return fmt.Errorf("%w: sidebar for %s", ErrForbidden, requester)
	}

	entries, err := s.aggregator.Summarize(ctx, sess.UserID)
	if err != nil {
		return err
	}
	sess.Emit(EventConversation, entries)
	return nil
}

// MarkSeen flags every message the peer sent in the shared conversation as
// seen and pushes refreshed sidebars to both participants. Without a
// conversation nothing happens.
func (s *Service) MarkSeen(ctx context.Context, sess *Session, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("%w: empty peer id", ErrBadPayload)
	}

	unlock := s.lockPair(sess.UserID, peerID)
	defer unlock()

	conv, err := s.store.FindConversation(ctx, sess.UserID, peerID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("seen without conversation", "user_id", sess.UserID, "peer_id", peerID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding conversation: %w", err)
	}

	n, err := s.store.MarkSeen(ctx, conv.ID, peerID)
	if err != nil {
		return fmt.Errorf("marking seen: %w", err)
	}
	s.logger.Debug("messages marked seen", "conversation_id", conv.ID, "count", n)

	return s.pushSidebars(ctx, sess.UserID, peerID)
}

func (s *Service) pushSidebars(ctx context.Context, a, b string) error {
	for _, userID := range participants(a, b) {
		entries, err := s.aggregator.Summarize(ctx, userID)
		if err != nil {
			return err
		}
		s.router.Deliver(userID, EventConversation, entries)
	}
	return nil
}

func (s *Service) lockPair(a, b string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(store.PairKey(a, b)))
	mu := &s.pairLocks[h.Sum32()%pairLockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *Service) fail(sess *Session, event string, err error) {
	s.logger.Warn("event handler failed", "user_id", sess.UserID, "event", event, "error", err)
	sess.Emit(EventError, ErrorPayload{Event: event, Message: clientMessage(err)})
}

// clientMessage hides storage details from peers.
func clientMessage(err error) string {
	for _, known := range []error{ErrBadPayload, ErrUnknownEvent, ErrForbidden, ErrPeerNotFound} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}

func participants(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}

func decodeString(data json.RawMessage, dst *string) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: expected string: %v", ErrBadPayload, err)
	}
	return nil
}
