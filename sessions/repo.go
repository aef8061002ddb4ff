package sessions

import "context"

// Repo persists the current session between process runs so that it can be
// restored at startup.
type Repo interface {
	// Load returns the persisted session or ErrSessionNotFound
	Load(ctx context.Context) (*Session, error)

	// Save replaces the persisted session
	Save(ctx context.Context, session *Session) error

	// Clear removes any persisted session
	Clear(ctx context.Context) error
}
