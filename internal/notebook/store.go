package notebook

import (
	"slices"
	"sync"
	"sync/atomic"
)

type subscription struct {
	id int
	fn func(State)
}

// Store owns the current State. Dispatch is the only writer; readers load a
// complete snapshot and never observe a partially applied action.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[State]
	subs    []subscription
	nextSub int
	version atomic.Uint64
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(&State{})
	return s
}

func (s *Store) State() State {
	if s == nil {
		return State{}
	}
	return *s.current.Load()
}

// Version counts committed actions.
func (s *Store) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version.Load()
}

// Dispatch reduces a against the current state and commits the result.
// Subscribers run after the commit, on the caller's goroutine.
func (s *Store) Dispatch(a Action) (State, error) {
	s.mu.Lock()
	prev := *s.current.Load()
	next, err := Reduce(prev, a)
	if err != nil {
		s.mu.Unlock()
		return prev, err
	}
	s.current.Store(&next)
	s.version.Add(1)
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(next)
	}
	return next, nil
}

// Subscribe registers fn for every committed state. The returned func
// removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	if s == nil || fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
		s.mu.Unlock()
	}
}
