package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/kb-console/identity"
	"github.com/jrsteele09/kb-console/internal/config"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/jrsteele09/kb-console/navigation"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/rs/zerolog"
)

// RefreshScheduler is the part of the refresh coordinator the notifier drives.
type RefreshScheduler interface {
	ScheduleNextRefresh(ctx context.Context, session *sessions.Session)
	CancelScheduledRefresh()
	// InFlight is true while the coordinator itself is refreshing
	InFlight() bool
}

// Notifier applies the identity provider's auth events to the session store,
// the refresh schedule and the user's location.
type Notifier struct {
	store     *sessions.Store
	provider  identity.Provider
	scheduler RefreshScheduler
	nav       navigation.Navigator
	routes    config.RoutesConfig
	validator *Validator
	log       zerolog.Logger

	lock        sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
}

type NotifierOption func(*Notifier)

func WithLogger(log zerolog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.log = logging.Component(log, "auth")
	}
}

// WithRoutes overrides the login, landing and root paths.
func WithRoutes(routes config.RoutesConfig) NotifierOption {
	return func(n *Notifier) {
		n.routes = routes
	}
}

func NewNotifier(store *sessions.Store, provider identity.Provider, scheduler RefreshScheduler, nav navigation.Navigator, options ...NotifierOption) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		store:     store,
		provider:  provider,
		scheduler: scheduler,
		nav:       nav,
		routes:    config.Routes{},
		validator: NewValidator(),
		log:       zerolog.Nop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Start subscribes to the provider and restores any session it already
// holds. Restoration never navigates. Start may be called once.
func (n *Notifier) Start(ctx context.Context) error {
	n.lock.Lock()
	if n.closed {
		n.lock.Unlock()
		return fmt.Errorf("[auth Notifier.Start] notifier is closed")
	}
	if n.unsubscribe != nil {
		n.lock.Unlock()
		return fmt.Errorf("[auth Notifier.Start] already started")
	}
	n.unsubscribe = n.provider.Subscribe(n.HandleEvent)
	n.lock.Unlock()

	defer func() {
		n.lock.Lock()
		n.started = true
		n.lock.Unlock()
	}()

	restored, err := n.provider.GetSession(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSessionNotFound) {
			n.log.Debug().Msg("no session to restore")
			return nil
		}
		return apperrors.Wrapf(err, "[auth Notifier.Start] restoring session")
	}

	if err := n.validator.ValidateSession(restored); err != nil {
		n.log.Warn().Err(err).Msg("discarding invalid restored session")
		return nil
	}

	n.log.Info().Str("user_id", restored.UserID).Msg("session restored")
	n.store.Set(restored)
	n.scheduler.ScheduleNextRefresh(n.ctx, restored)
	return nil
}

// HandleEvent applies one auth event. It is registered with the provider by
// Start and may also be called directly.
func (n *Notifier) HandleEvent(ev identity.Event) {
	n.lock.Lock()
	closed, started := n.closed, n.started
	n.lock.Unlock()
	if closed {
		return
	}

	switch ev.Type {
	case identity.SignedIn:
		n.signedIn(ev, !started || ev.Restored)
	case identity.SignedOut:
		n.signedOut()
	case identity.TokenRefreshed:
		n.tokenRefreshed(ev)
	case identity.UserUpdated:
		if ev.Session != nil {
			n.store.Set(ev.Session)
		}
	default:
		n.log.Debug().Str("event", string(ev.Type)).Msg("ignoring unknown auth event")
	}
}

func (n *Notifier) signedIn(ev identity.Event, restored bool) {
	if err := n.validator.ValidateSession(ev.Session); err != nil {
		n.log.Warn().Err(err).Msg("ignoring sign-in with invalid session")
		return
	}

	n.store.Set(ev.Session)
	n.scheduler.ScheduleNextRefresh(n.ctx, ev.Session)

	if restored {
		return
	}
	n.log.Info().Str("user_id", ev.Session.UserID).Msg("interactive sign-in")
	n.nav.NavigateIfAt(n.routes.GetLandingPath(), n.routes.GetLoginPath(), n.routes.GetRootPath())
}

func (n *Notifier) signedOut() {
	n.scheduler.CancelScheduledRefresh()
	if n.store.Get() != nil {
		n.store.Set(nil)
	}
	n.nav.Navigate(n.routes.GetLoginPath())
}

func (n *Notifier) tokenRefreshed(ev identity.Event) {
	// The coordinator stores and reschedules its own refreshes.
	if n.scheduler.InFlight() {
		return
	}
	if err := n.validator.ValidateSession(ev.Session); err != nil {
		n.log.Warn().Err(err).Msg("ignoring refreshed session")
		return
	}
	n.store.Set(ev.Session)
	n.scheduler.ScheduleNextRefresh(n.ctx, ev.Session)
}

// Close stops handling events. Pending refreshes started by the notifier see
// a cancelled context.
func (n *Notifier) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.cancel()
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
}
