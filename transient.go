package roomkit

import (
	"sync"
	"time"
)

// transientTimerSet holds at most one pending timer per contributor. The
// manager arms a timer when a contributor's channel detaches and disarms it
// if the channel re-attaches before the grace period expires, so brief flaps
// never surface as room transitions.
type transientTimerSet struct {
	mu     sync.Mutex
	timers map[Contributor]*time.Timer
}

func newTransientTimerSet() *transientTimerSet {
	return &transientTimerSet{
		timers: make(map[Contributor]*time.Timer),
	}
}

// arm schedules a timer for the contributor unless one is already pending.
// When the timer fires the entry is removed before onFire runs; a disarm
// that removes the entry before the firing timer does prevents onFire from
// being invoked.
func (t *transientTimerSet) arm(contributor Contributor, d time.Duration, onFire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.timers[contributor]; exists {
		return
	}
	t.timers[contributor] = time.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.timers[contributor]
		delete(t.timers, contributor)
		t.mu.Unlock()
		if live {
			onFire()
		}
	})
}

// disarm cancels the contributor's pending timer, if any.
func (t *transientTimerSet) disarm(contributor Contributor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, exists := t.timers[contributor]; exists {
		timer.Stop()
		delete(t.timers, contributor)
	}
}

// has reports whether a timer is pending for the contributor.
func (t *transientTimerSet) has(contributor Contributor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.timers[contributor]
	return exists
}

// clearAll cancels every pending timer.
func (t *transientTimerSet) clearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for contributor, timer := range t.timers {
		timer.Stop()
		delete(t.timers, contributor)
	}
}
