// Package navigation tracks which console surface the user is on and applies
// navigation requests asynchronously.
package navigation

import (
	"context"
	"slices"
	"sync"

	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/rs/zerolog"
)

// Navigator moves the user between console surfaces. Navigate and
// NavigateIfAt never block; the move is applied on a later tick.
type Navigator interface {
	// Location is the surface the user is currently on
	Location() string

	// Navigate moves to the given path unless the user is already there
	Navigate(to string)

	// NavigateIfAt moves to the given path only if, when applied, the user is
	// on one of the from paths
	NavigateIfAt(to string, from ...string)
}

// Listener observes applied navigations.
type Listener func(from, to string)

type request struct {
	to   string
	from []string
	done chan struct{} // set for flush markers only
}

var _ Navigator = (*Router)(nil)

// Router is the process's Navigator. Requests are queued and applied in
// order by Run.
type Router struct {
	lock      sync.Mutex
	location  string
	pending   []request
	listeners []Listener
	wake      chan struct{}
	log       zerolog.Logger
}

type RouterOption func(*Router)

func WithLogger(log zerolog.Logger) RouterOption {
	return func(r *Router) {
		r.log = logging.Component(log, "navigation")
	}
}

func NewRouter(initial string, options ...RouterOption) *Router {
	r := &Router{
		location: initial,
		wake:     make(chan struct{}, 1),
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Router) Location() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.location
}

// SetLocation records where the user is, as reported by the UI. It is applied
// immediately and does not notify listeners.
func (r *Router) SetLocation(path string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.location = path
}

func (r *Router) Navigate(to string) {
	r.enqueue(request{to: to})
}

func (r *Router) NavigateIfAt(to string, from ...string) {
	r.enqueue(request{to: to, from: from})
}

// OnNavigate registers a listener for applied navigations.
func (r *Router) OnNavigate(l Listener) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.listeners = append(r.listeners, l)
}

// Flush waits until every navigation queued before the call has been applied.
// Run must be running.
func (r *Router) Flush(ctx context.Context) error {
	done := make(chan struct{})
	r.enqueue(request{done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued navigations until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
			r.drain()
		}
	}
}

func (r *Router) enqueue(req request) {
	r.lock.Lock()
	r.pending = append(r.pending, req)
	r.lock.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Router) drain() {
	for {
		r.lock.Lock()
		if len(r.pending) == 0 {
			r.lock.Unlock()
			return
		}
		req := r.pending[0]
		r.pending = r.pending[1:]
		r.lock.Unlock()

		if req.done != nil {
			close(req.done)
			continue
		}
		r.apply(req)
	}
}

func (r *Router) apply(req request) {
	r.lock.Lock()
	from := r.location
	if from == req.to || (len(req.from) > 0 && !slices.Contains(req.from, from)) {
		r.lock.Unlock()
		return
	}
	r.location = req.to
	listeners := slices.Clone(r.listeners)
	r.lock.Unlock()

	r.log.Debug().Str("from", from).Str("to", req.to).Msg("navigated")
	for _, l := range listeners {
		l(from, req.to)
	}
}
