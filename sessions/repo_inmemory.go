package sessions

import (
	"context"
	"errors"
	"sync"

	apperrors "github.com/jrsteele09/kb-console/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo keeps the session for the lifetime of the process only
type InMemoryRepo struct {
	mu      sync.RWMutex
	session *Session
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

func (r *InMemoryRepo) Load(_ context.Context) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	copied := *r.session
	return &copied, nil
}

func (r *InMemoryRepo) Save(_ context.Context, session *Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to prevent external modifications
	copied := *session
	r.session = &copied
	return nil
}

func (r *InMemoryRepo) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = nil
	return nil
}
