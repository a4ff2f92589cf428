package remote

import "time"

// Backoff tuning, taken from the original source verbatim: the first
// retry on a peer missing an address is immediate, and repeated
// connection failures back off linearly up to a 15s ceiling (not
// exponential — see bump).
const (
	InitialTime = 100 * time.Millisecond
	MaxTime     = 15 * time.Second
)

// Throttle is a per-peer reconnect backoff record: timestamp is the
// earliest time a new connection attempt may start, num is the
// consecutive-failure count.
type Throttle struct {
	timestamp time.Time
	num       uint32
}

// newThrottle creates a throttle entry already eligible for retry, used
// when a peer is first seen without a primary address.
func newThrottle(now time.Time) *Throttle {
	return &Throttle{timestamp: now.Add(-InitialTime), num: 1}
}

// newThrottleAfterFailure creates a throttle entry for a peer whose
// connection just died for the first time: eligible again after
// InitialTime.
func newThrottleAfterFailure(now time.Time) *Throttle {
	return &Throttle{timestamp: now.Add(InitialTime), num: 1}
}

// bump records another consecutive failure and pushes the retry
// deadline out linearly, capped at MaxTime.
func (t *Throttle) bump(now time.Time) {
	t.num++
	wait := InitialTime * time.Duration(t.num)
	if wait > MaxTime {
		wait = MaxTime
	}
	t.timestamp = now.Add(wait)
}

func (t *Throttle) eligible(now time.Time) bool {
	return t.timestamp.Before(now)
}
