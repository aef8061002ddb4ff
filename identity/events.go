package identity

import "sync"

// Events fans auth events out to subscribers, synchronously and in
// subscription order.
type Events struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

type subscriber struct {
	id uint64
	fn func(Event)
}

func NewEvents() *Events {
	return &Events{}
}

func (e *Events) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber. Subscribers run outside
// the lock and may unsubscribe from within their callback.
func (e *Events) Publish(ev Event) {
	e.mu.RLock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, s := range e.subs {
		fns = append(fns, s.fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
