package service

import "time"

// rateState is the per-connection message counter. It lives and dies with
// the connection and is only touched under the room lock.
type rateState struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time
}

// inCooldown reports whether the connection is still serving a penalty
// from an earlier violation. Frames arriving during cooldown are dropped
// without any notice.
func (s *rateState) inCooldown(now time.Time) bool {
	return s.cooldownUntil.After(now)
}

// allow counts one message against the fixed window. When the count
// exceeds the limit it imposes a cooldown until the window would have
// ended and returns the remaining wait.
func (s *rateState) allow(now time.Time, window time.Duration, limit int) (bool, time.Duration) {
	if now.Sub(s.windowStart) > window {
		s.count = 0
		s.windowStart = now
	}

	s.count++
	if s.count > limit {
		remaining := window - now.Sub(s.windowStart)
		s.cooldownUntil = now.Add(remaining)
		return false, remaining
	}
	return true, 0
}
