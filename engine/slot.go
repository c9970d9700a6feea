package engine

import "sync"

// slot tracks the set of requests currently past scheduling and not yet
// fully handled (downloaded + scraped), the Go analogue of the source
// engine's Slot.inprogress set. Once beginClosing sets closing, the
// removal that empties the set closes drained, so shutdown can wait for
// in-flight work; add itself does not check closing.
type slot struct {
	mu         sync.Mutex
	inProgress map[*requestKey]struct{}
	closing    bool
	drained    chan struct{}
}

// requestKey is a unique token per in-flight request, since a *request.Request
// value itself may be mutated (e.g. retried) while in flight.
type requestKey struct{}

func newSlot() *slot {
	return &slot{inProgress: make(map[*requestKey]struct{}), drained: make(chan struct{})}
}

func (s *slot) add() *requestKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := &requestKey{}
	s.inProgress[k] = struct{}{}
	return k
}

func (s *slot) remove(k *requestKey) {
	s.mu.Lock()
	delete(s.inProgress, k)
	empty := len(s.inProgress) == 0
	closing := s.closing
	s.mu.Unlock()
	if closing && empty {
		s.fireDrained()
	}
}

func (s *slot) fireDrained() {
	select {
	case <-s.drained:
	default:
		close(s.drained)
	}
}

func (s *slot) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inProgress)
}

// beginClosing marks the slot as closing, returning a channel that's
// closed once every in-flight request has been removed.
func (s *slot) beginClosing() <-chan struct{} {
	s.mu.Lock()
	s.closing = true
	empty := len(s.inProgress) == 0
	s.mu.Unlock()
	if empty {
		s.fireDrained()
	}
	return s.drained
}
