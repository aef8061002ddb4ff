package sessions

import (
	"sync"
)

// Listener is notified after the current session is replaced. previous and
// current may be nil.
type Listener func(previous, current *Session)

// Store holds the current session for the process. At most one session is
// current at any time.
type Store struct {
	lock      sync.RWMutex
	current   *Session
	nextID    uint64
	listeners []listenerEntry
}

type listenerEntry struct {
	id uint64
	fn Listener
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the current session, or nil when signed out.
func (s *Store) Get() *Session {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.current
}

// Set replaces the current session (nil clears it) and notifies listeners in
// subscription order. Listeners run outside the lock.
func (s *Store) Set(session *Session) {
	s.lock.Lock()
	previous := s.current
	s.current = session
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l.fn)
	}
	s.lock.Unlock()

	for _, l := range listeners {
		l(previous, session)
	}
}

// CompareAndSet replaces the current session with session only while old is
// still current, and reports whether it did. Listeners run as for Set.
func (s *Store) CompareAndSet(old, session *Session) bool {
	s.lock.Lock()
	if s.current != old {
		s.lock.Unlock()
		return false
	}
	s.current = session
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l.fn)
	}
	s.lock.Unlock()

	for _, l := range listeners {
		l(old, session)
	}
	return true
}

// Subscribe registers a listener and returns a function removing it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			for i, entry := range s.listeners {
				if entry.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
