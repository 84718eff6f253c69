package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// PresenceReader answers live online queries.
type PresenceReader interface {
	IsOnline(userID string) bool
}

// Aggregator builds sidebar summaries from the store and live presence.
type Aggregator struct {
	store    store.Store
	presence PresenceReader
}

// NewAggregator creates an Aggregator.
func NewAggregator(s store.Store, presence PresenceReader) *Aggregator {
	return &Aggregator{store: s, presence: presence}
}

// Summarize returns userID's conversations, most recently updated first,
// each with the peer's profile, live presence, unread count and last
// message. It is recomputed from scratch on every call.
func (a *Aggregator) Summarize(ctx context.Context, userID string) ([]SidebarEntry, error) {
	convs, err := a.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	entries := make([]SidebarEntry, 0, len(convs))
	for _, conv := range convs {
		peerID := conv.Peer(userID)

		peer := Profile{ID: peerID}
		user, err := a.store.GetUser(ctx, peerID)
		switch {
		case err == nil:
			peer = profileOf(user, false)
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("loading peer %s: %w", peerID, err)
		}
		peer.Online = a.presence.IsOnline(peerID)

		msgs, err := a.store.ListMessages(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("listing messages for %s: %w", conv.ID, err)
		}

		var last *store.Message
		if len(msgs) > 0 {
			last = msgs[len(msgs)-1]
		}

		entries = append(entries, SidebarEntry{
			ID:          conv.ID,
			UserDetails: peer,
			UnseenMsg: lo.CountBy(msgs, func(m *store.Message) bool {
				return !m.Seen && m.MsgByUserID != userID
			}),
			LastMsg:   last,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	return entries, nil
}
