package service

import (
	"sync"
	"time"
)

// alarm holds at most one pending deadline. Scheduling again before the
// timer fires replaces the previous deadline rather than stacking a second
// one, so bursts of writes coalesce into a single wake-up per quiet period.
type alarm struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (a *alarm) Schedule(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, fn)
}

func (a *alarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
