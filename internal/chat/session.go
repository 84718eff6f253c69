package chat

import "sync"

// State is the lifecycle stage of a connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Emitter sends an event to a single connection.
type Emitter interface {
	Emit(event string, payload any)
}

// Session is the per-connection state for an authenticated identity.
type Session struct {
	UserID string

	emitter Emitter
	mu      sync.Mutex
	state   State
}

// NewSession returns a session in StateAuthenticated. Sessions only exist
// once the handshake credential has been resolved.
func NewSession(userID string, emitter Emitter) *Session {
	return &Session{
		UserID:  userID,
		emitter: emitter,
		state:   StateAuthenticated,
	}
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate moves an authenticated session to StateActive. It reports false
// if the session was already closed.
func (s *Session) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return s.state == StateActive
	}
	s.state = StateActive
	return true
}

// Close moves the session to StateClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// Emit sends an event to this connection only.
func (s *Session) Emit(event string, payload any) {
	if s.emitter != nil {
		s.emitter.Emit(event, payload)
	}
}
