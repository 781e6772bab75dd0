package broadcast

import "sync"

// slotLocks serializes resolve and publish per course slot within a process.
type slotLocks struct {
	mu    sync.Mutex
	slots map[string]*slotLock
}

type slotLock struct {
	mu   sync.Mutex
	refs int
}

func newSlotLocks() *slotLocks {
	return &slotLocks{slots: make(map[string]*slotLock)}
}

// lock blocks until slot is free and returns its release function.
func (l *slotLocks) lock(slot string) func() {
	l.mu.Lock()
	s, ok := l.slots[slot]
	if !ok {
		s = &slotLock{}
		l.slots[slot] = s
	}
	s.refs++
	l.mu.Unlock()

	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		l.mu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(l.slots, slot)
		}
		l.mu.Unlock()
	}
}
