// Package server routes frames to live connections by identity and keeps
// presence in step with registration via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/presence"
)

// Hub owns every live connection, keyed by identity. Registration,
// deregistration and fan-out all run on the Run goroutine, so a presence
// snapshot is always taken right after the mutation that triggered it.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	presence   *presence.Registry
	register   chan *Client
	unregister chan *Client
	outbound   chan delivery
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a Hub that records presence in registry. Pass nil logger
// for default.
func NewHub(registry *presence.Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		presence:   registry,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan delivery, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// Register hands an authenticated client to the hub, which activates its
// session, starts its pumps and broadcasts the online set.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.closeConnection()
	}
}

// Unregister removes a client. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Deliver sends an event to every live connection of userID. Users with no
// connections are skipped; nothing is queued for later.
func (h *Hub) Deliver(userID, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encoding delivery", "event", event, "error", err)
		return
	}
	h.enqueue(delivery{userID: userID, payload: data})
}

// BroadcastAll sends an event to every live connection.
func (h *Hub) BroadcastAll(event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encoding broadcast", "event", event, "error", err)
		return
	}
	h.enqueue(delivery{payload: data})
}

func (h *Hub) emitTo(client *Client, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encoding reply", "event", event, "error", err)
		return
	}
	h.enqueue(delivery{target: client, payload: data})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.outbound <- d:
	case <-h.ctx.Done():
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Presence returns the registry the hub maintains.
func (h *Hub) Presence() *presence.Registry {
	return h.presence
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the send so the channel cannot be closed underneath us
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.userID][client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.attach(client)

		case client := <-h.unregister:
			if client == nil {
				continue
			}
			h.dropClients([]*Client{client}, "disconnected")

		case d := <-h.outbound:
			h.fanOut(d)
		}
	}
}

func (h *Hub) attach(client *Client) {
	h.mutex.Lock()
	set, ok := h.clients[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.userID] = set
	}
	client.closed = false
	set[client] = struct{}{}
	h.mutex.Unlock()

	first := h.presence.Add(client.userID)
	if !client.session.Activate() {
		h.dropClients([]*Client{client}, "closed before activation")
		return
	}

	h.logger.Info("client registered",
		"user_id", client.userID, "addr", client.addr, "first_connection", first,
		"connections", h.ConnectionCount())

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	// Every connect broadcasts the full set so the newcomer gets a snapshot.
	h.broadcastPresence()
}

// dropClients detaches clients, closes their send channels and updates
// presence, broadcasting the online set when an identity went offline.
func (h *Hub) dropClients(clients []*Client, reason string) {
	var channelsToClose []chan []byte
	var detached []*Client

	h.mutex.Lock()
	for _, client := range clients {
		set := h.clients[client.userID]
		if _, exists := set[client]; !exists {
			continue
		}
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.userID)
		}
		client.closed = true
		channelsToClose = append(channelsToClose, client.send)
		detached = append(detached, client)
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}

	wentOffline := false
	for _, client := range detached {
		client.session.Close()
		if h.presence.Remove(client.userID) {
			wentOffline = true
		}
		h.logger.Info("client unregistered",
			"user_id", client.userID, "addr", client.addr, "reason", reason)
	}

	if wentOffline {
		h.broadcastPresence()
	}
}

func (h *Hub) broadcastPresence() {
	data, err := encodeEnvelope(chat.EventOnlineUser, h.presence.Snapshot())
	if err != nil {
		h.logger.Error("encoding online set", "error", err)
		return
	}
	h.fanOut(delivery{payload: data})
}

func (h *Hub) fanOut(d delivery) {
	targets := h.targets(d)
	if len(targets) == 0 {
		return
	}

	var failed []*Client
	for _, client := range targets {
		if !h.safeSend(client, d.payload) {
			failed = append(failed, client)
		}
	}
	if len(failed) > 0 {
		h.dropClients(failed, "send buffer full")
	}
}

// targets returns a snapshot of the connections a delivery addresses.
func (h *Hub) targets(d delivery) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	switch {
	case d.target != nil:
		if _, ok := h.clients[d.target.userID][d.target]; !ok {
			return nil
		}
		return []*Client{d.target}
	case d.userID != "":
		set := h.clients[d.userID]
		out := make([]*Client, 0, len(set))
		for client := range set {
			out = append(out, client)
		}
		return out
	default:
		var out []*Client
		for _, set := range h.clients {
			for client := range set {
				out = append(out, client)
			}
		}
		return out
	}
}

// shutdownClients detaches every client and closes its connection.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	var clients []*Client
	var channelsToClose []chan []byte
	for userID, set := range h.clients {
		for client := range set {
			client.closed = true
			clients = append(clients, client)
			channelsToClose = append(channelsToClose, client.send)
		}
		delete(h.clients, userID)
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
	for _, client := range clients {
		client.session.Close()
		h.presence.Remove(client.userID)
		client.closeConnection()
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
