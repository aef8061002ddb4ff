package identity

import (
	"context"

	"github.com/jrsteele09/kb-console/sessions"
)

// EventType names an auth state change pushed by the identity provider.
type EventType string

const (
	// SignedIn is emitted after a sign-in, or when a persisted session is
	// restored (Event.Restored is then true).
	SignedIn EventType = "SIGNED_IN"

	// SignedOut is emitted after the session has been discarded.
	SignedOut EventType = "SIGNED_OUT"

	// TokenRefreshed is emitted whenever the provider minted a new access token.
	TokenRefreshed EventType = "TOKEN_REFRESHED"

	// UserUpdated is emitted when the signed-in user's profile changed.
	UserUpdated EventType = "USER_UPDATED"
)

// Event is a single auth state change.
type Event struct {
	Type     EventType
	Session  *sessions.Session // nil for SignedOut
	Restored bool              // true when the session was restored rather than freshly signed in
}

// Provider is the hosted identity service the console authenticates against.
type Provider interface {
	// GetSession returns the session the provider already holds (restored from
	// persistence), or ErrSessionNotFound
	GetSession(ctx context.Context) (*sessions.Session, error)

	// RefreshSession exchanges a refresh token for a new session
	RefreshSession(ctx context.Context, refreshToken string) (*sessions.Session, error)

	// SignOut discards the provider's session
	SignOut(ctx context.Context) error

	// Subscribe registers for auth events and returns a function that removes
	// the subscription
	Subscribe(fn func(Event)) (unsubscribe func())
}
