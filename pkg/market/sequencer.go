package market

import "sync"

// Sequencer hands out exclusive execution slots keyed by item. At most one
// matching operation per item is in flight at any time; submissions for
// different items proceed fully concurrently.
//
// Without this, two concurrent submissions could both read the same resting
// order, both consume it, and double-spend its quantity.
type Sequencer struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu   sync.Mutex
	refs int
}

func NewSequencer() *Sequencer {
	return &Sequencer{slots: make(map[string]*slot)}
}

// Acquire blocks until the caller holds the exclusive slot for item, then
// returns the release function. Release must be called exactly once, after
// all of the operation's persistence side effects have completed.
func (s *Sequencer) Acquire(item string) (release func()) {
	s.mu.Lock()
	sl := s.slots[item]
	if sl == nil {
		sl = &slot{}
		s.slots[item] = sl
	}
	sl.refs++
	s.mu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()

		s.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(s.slots, item)
		}
		s.mu.Unlock()
	}
}
