package providerfake

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/kb-console/identity"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/sessions"
)

var _ identity.Provider = (*FakeProvider)(nil)

// FakeProvider is a scriptable identity.Provider for tests.
type FakeProvider struct {
	mu       sync.Mutex
	restored *sessions.Session

	// RefreshFunc produces the result of RefreshSession. When nil,
	// RefreshSession fails with ErrRefreshFailed.
	RefreshFunc func(ctx context.Context, refreshToken string) (*sessions.Session, error)

	// Block, when non-nil, makes RefreshSession wait until it is closed.
	Block chan struct{}
	// Started, when non-nil, receives once per RefreshSession call before it
	// blocks.
	Started chan struct{}

	// EmitOnRefresh publishes TokenRefreshed after a successful refresh, like
	// a real provider does.
	EmitOnRefresh bool

	SignOutErr error

	refreshCalls atomic.Int32
	signOutCalls atomic.Int32
	events       *identity.Events
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{events: identity.NewEvents()}
}

// SetRestored sets the session returned by GetSession.
func (f *FakeProvider) SetRestored(session *sessions.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = session
}

func (f *FakeProvider) GetSession(_ context.Context) (*sessions.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restored == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	return f.restored, nil
}

func (f *FakeProvider) RefreshSession(ctx context.Context, refreshToken string) (*sessions.Session, error) {
	f.refreshCalls.Add(1)
	if f.Started != nil {
		f.Started <- struct{}{}
	}
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.RefreshFunc == nil {
		return nil, apperrors.ErrRefreshFailed
	}

	session, err := f.RefreshFunc(ctx, refreshToken)
	if err == nil && f.EmitOnRefresh {
		f.events.Publish(identity.Event{Type: identity.TokenRefreshed, Session: session})
	}
	return session, err
}

func (f *FakeProvider) SignOut(_ context.Context) error {
	f.signOutCalls.Add(1)
	f.SetRestored(nil)
	f.events.Publish(identity.Event{Type: identity.SignedOut})
	return f.SignOutErr
}

func (f *FakeProvider) Subscribe(fn func(identity.Event)) (unsubscribe func()) {
	return f.events.Subscribe(fn)
}

// Emit publishes ev to subscribers as if the provider had pushed it.
func (f *FakeProvider) Emit(ev identity.Event) {
	f.events.Publish(ev)
}

func (f *FakeProvider) RefreshCalls() int {
	return int(f.refreshCalls.Load())
}

func (f *FakeProvider) SignOutCalls() int {
	return int(f.signOutCalls.Load())
}
