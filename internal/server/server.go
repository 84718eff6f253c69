// Package server assembles the hub, presence registry, identity resolver and
// chat coordinator into a single Server value.
package server

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// TokenIssuer mints handshake credentials for logged-in users.
type TokenIssuer interface {
	Generate(userID string, expiresIn time.Duration) (string, error)
}

// Server owns the process-wide registry and router. It is constructed once
// and shared by every connection handler.
type Server struct {
	cfg      Config
	hub      *Hub
	presence *presence.Registry
	service  *chat.Service
	resolver auth.Resolver
	users    store.UserStore
	tokens   TokenIssuer
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New wires a Server around st. Tokens are verified and issued with
// verifier. Pass nil logger for default.
func New(cfg Config, st store.Store, verifier *auth.JWTVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	registry := presence.NewRegistry()
	hub := NewHub(registry, logger)

	s := &Server{
		cfg:      cfg,
		hub:      hub,
		presence: registry,
		service:  chat.NewService(st, hub, registry, logger),
		resolver: auth.NewTokenResolver(verifier, st),
		users:    st,
		tokens:   verifier,
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:   logger.With("component", "server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Start launches the hub's event loop.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage WebSocket connections")
}

// Hub returns the connection router.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Presence returns the presence registry.
func (s *Server) Presence() *presence.Registry {
	return s.presence
}
