package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// ErrUnknownUser is returned when a valid token names a user that does not exist.
var ErrUnknownUser = errors.New("unknown user")

// Resolver turns a handshake credential into a verified user.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*store.User, error)
}

// UserLookup loads users by id.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// TokenResolver verifies a token and loads the user it names.
type TokenResolver struct {
	verifier TokenVerifier
	users    UserLookup
}

// NewTokenResolver creates a resolver backed by verifier and users.
func NewTokenResolver(verifier TokenVerifier, users UserLookup) *TokenResolver {
	return &TokenResolver{verifier: verifier, users: users}
}

// Resolve returns the user named by token.
func (r *TokenResolver) Resolve(ctx context.Context, token string) (*store.User, error) {
	userID, err := r.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return user, nil
}

// TokenFromRequest extracts the handshake credential from the Authorization
// bearer header, falling back to the "token" query parameter for browser
// WebSocket clients that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
