package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/kb-console/identity"
	"github.com/jrsteele09/kb-console/internal/clock"
	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/jrsteele09/kb-console/internal/metrics"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the single slot used for in-flight refresh de-duplication.
const refreshKey = "refresh"

const defaultRefreshTimeout = 30 * time.Second

// Policy holds the refresh timing constants.
type Policy struct {
	Threshold time.Duration // A session expiring within this window is refreshed
	MinDelay  time.Duration // Floor for a scheduled refresh
	MaxDelay  time.Duration // Cap for a scheduled refresh
}

// DefaultPolicy refreshes five minutes before expiry, never sooner than a
// minute and never further out than a day.
var DefaultPolicy = Policy{
	Threshold: 5 * time.Minute,
	MinDelay:  time.Minute,
	MaxDelay:  24 * time.Hour,
}

// Coordinator decides when the current session needs refreshing, performs
// de-duplicated refreshes against the identity provider and keeps a single
// refresh timer armed for the current session.
type Coordinator struct {
	store          *sessions.Store
	provider       identity.Provider
	clock          clock.Clock
	log            zerolog.Logger
	metrics        *metrics.Metrics
	policy         Policy
	refreshTimeout time.Duration

	group    singleflight.Group
	inFlight atomic.Bool

	lock       sync.Mutex
	timer      clock.Timer
	generation uint64

	// ctx is cancelled by Close; every timer callback and refresh
	// continuation checks it before touching shared state.
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(co *Coordinator) {
		co.log = logging.Component(log, "refresh")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

func WithPolicy(p Policy) Option {
	return func(co *Coordinator) {
		co.policy = p
	}
}

// WithRefreshTimeout bounds a single upstream refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.refreshTimeout = d
		}
	}
}

// New creates a Coordinator bound to store. The coordinator re-evaluates its
// timer whenever the store's session is replaced and cancels it when the
// session is cleared.
func New(store *sessions.Store, provider identity.Provider, options ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:          store,
		provider:       provider,
		clock:          clock.Real(),
		log:            zerolog.Nop(),
		policy:         DefaultPolicy,
		refreshTimeout: defaultRefreshTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range options {
		opt(c)
	}
	c.unsubscribe = store.Subscribe(c.onSessionChanged)
	return c
}

// IsExpiring reports whether the current session expires within the policy
// threshold. It is false when there is no session.
func (c *Coordinator) IsExpiring() bool {
	session := c.store.Get()
	if session == nil {
		return false
	}
	return session.ExpiresWithin(c.clock.Now(), c.policy.Threshold)
}

// Refresh exchanges the current refresh token for a new session and stores
// it. Callers arriving while a refresh is in flight share its result rather
// than starting another upstream call. Failures are logged and reported as
// nil. ctx only bounds how long this caller waits: when it is done Refresh
// also returns nil while the shared refresh carries on, so callers check
// ctx.Err() before treating nil as a failure.
func (c *Coordinator) Refresh(ctx context.Context) *sessions.Session {
	if c.closed() {
		return nil
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.doRefresh(), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.RefreshShared()
		}
		session, _ := res.Val.(*sessions.Session)
		return session
	case <-ctx.Done():
		return nil
	}
}

// InFlight reports whether an upstream refresh is currently running.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

func (c *Coordinator) doRefresh() *sessions.Session {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	current := c.store.Get()
	if current == nil || current.RefreshToken == "" {
		c.log.Debug().Msg("no refresh token available, skipping refresh")
		c.metrics.RefreshCompleted(metrics.RefreshSkipped)
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.refreshTimeout)
	defer cancel()

	session, err := c.provider.RefreshSession(ctx, current.RefreshToken)
	// The provider refuses to keep a refresh that raced a sign-in or sign-out;
	// whatever the store holds now is the answer.
	if latest := c.store.Get(); latest != current && !c.closed() {
		c.log.Debug().Msg("session replaced during refresh, discarding result")
		c.metrics.RefreshCompleted(metrics.RefreshDiscarded)
		return latest
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("session refresh failed")
		c.metrics.RefreshCompleted(metrics.RefreshFailure)
		return nil
	}
	if session == nil {
		c.log.Warn().Msg("identity provider returned no session")
		c.metrics.RefreshCompleted(metrics.RefreshFailure)
		return nil
	}

	// A result arriving after Close must not touch the store.
	if c.closed() {
		return nil
	}
	// The store may still change between the check above and here.
	if !c.store.CompareAndSet(current, session) {
		c.log.Debug().Msg("session replaced during refresh, discarding result")
		c.metrics.RefreshCompleted(metrics.RefreshDiscarded)
		return c.store.Get()
	}
	c.metrics.RefreshCompleted(metrics.RefreshSuccess)
	c.log.Debug().Time("expires_at", session.Expiry()).Msg("session refreshed")
	return session
}

// ScheduleNextRefresh replaces any pending timer with one for session. A
// session already inside the refresh threshold is refreshed immediately;
// if that fails the user is signed out.
func (c *Coordinator) ScheduleNextRefresh(ctx context.Context, session *sessions.Session) {
	c.schedule(ctx, session, true)
}

func (c *Coordinator) schedule(ctx context.Context, session *sessions.Session, allowImmediate bool) {
	if c.closed() {
		return
	}
	c.CancelScheduledRefresh()
	if session == nil {
		return
	}

	until := session.TimeUntilExpiry(c.clock.Now())
	if allowImmediate && until <= c.policy.Threshold {
		c.log.Debug().Dur("until_expiry", until).Msg("session expiring, refreshing now")
		next := c.Refresh(ctx)
		// Teardown of the caller is not a refresh failure.
		if c.closed() || ctx.Err() != nil {
			return
		}
		if next == nil {
			c.signOutAfterFailure(ctx)
			return
		}
		// Only a timer from here on, so short-lived tokens cannot loop.
		c.schedule(ctx, next, false)
		return
	}

	c.arm(c.NextRefreshDelay(until))
}

func (c *Coordinator) arm(delay time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed() {
		return
	}
	c.stopTimerLocked()
	c.generation++
	gen := c.generation
	c.timer = c.clock.AfterFunc(delay, func() {
		c.onTimer(gen)
	})
	c.log.Debug().Dur("delay", delay).Msg("next refresh scheduled")
}

// NextRefreshDelay converts the time left on a session into the delay before
// its scheduled refresh.
func (c *Coordinator) NextRefreshDelay(untilExpiry time.Duration) time.Duration {
	delay := untilExpiry - c.policy.Threshold
	if delay < c.policy.MinDelay {
		delay = c.policy.MinDelay
	}
	if delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	return delay
}

func (c *Coordinator) onTimer(gen uint64) {
	c.lock.Lock()
	if gen != c.generation || c.closed() {
		c.lock.Unlock()
		return
	}
	c.timer = nil
	c.lock.Unlock()

	next := c.Refresh(c.ctx)
	if c.closed() {
		return
	}
	if next == nil {
		c.signOutAfterFailure(c.ctx)
		return
	}
	c.schedule(c.ctx, next, false)
}

// CancelScheduledRefresh stops the pending timer, if any.
func (c *Coordinator) CancelScheduledRefresh() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stopTimerLocked()
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Invalidates a callback that already fired but has not yet taken the lock
	c.generation++
}

func (c *Coordinator) signOutAfterFailure(ctx context.Context) {
	// Someone else already signed out while the refresh was running.
	if c.store.Get() == nil {
		return
	}
	if err := c.SignOut(ctx, metrics.ReasonRefreshFailed); err != nil {
		c.log.Warn().Err(err).Msg("sign out after failed refresh")
	}
}

// SignOut cancels the refresh timer, signs out of the identity provider and
// clears the store. The store is cleared even when the provider call fails.
func (c *Coordinator) SignOut(ctx context.Context, reason string) error {
	c.CancelScheduledRefresh()
	err := c.provider.SignOut(ctx)
	if c.store.Get() != nil {
		c.store.Set(nil)
	}
	c.metrics.SignedOut(reason)
	c.log.Info().Str("reason", reason).Msg("signed out")
	return err
}

// Close tears the coordinator down. Pending timers and in-flight refresh
// results become no-ops.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.unsubscribe()
		c.CancelScheduledRefresh()
	})
}

func (c *Coordinator) closed() bool {
	return c.ctx.Err() != nil
}

func (c *Coordinator) onSessionChanged(_, current *sessions.Session) {
	if c.closed() {
		return
	}
	if current == nil {
		c.CancelScheduledRefresh()
		return
	}
	c.arm(c.NextRefreshDelay(current.TimeUntilExpiry(c.clock.Now())))
}
