package remote

import (
	"testing"
	"time"
)

// TestThrottleGrowth is property 10: after n consecutive dead-connection
// events for a peer, the next scheduled timestamp is
// now + min(InitialTime*n, MaxTime).
func TestThrottleGrowth(t *testing.T) {
	base := time.Now()
	th := newThrottleAfterFailure(base)
	if got, want := th.timestamp.Sub(base), InitialTime; got != want {
		t.Fatalf("after 1st failure: got +%v, want +%v", got, want)
	}

	th.bump(base)
	if got, want := th.timestamp.Sub(base), 2*InitialTime; got != want {
		t.Fatalf("after 2nd failure: got +%v, want +%v", got, want)
	}

	th.bump(base)
	if got, want := th.timestamp.Sub(base), 3*InitialTime; got != want {
		t.Fatalf("after 3rd failure: got +%v, want +%v", got, want)
	}
}

func TestThrottleGrowthCapsAtMaxTime(t *testing.T) {
	base := time.Now()
	th := newThrottleAfterFailure(base)
	for i := 0; i < 500; i++ {
		th.bump(base)
	}
	if got := th.timestamp.Sub(base); got != MaxTime {
		t.Fatalf("expected growth to cap at %v, got +%v", MaxTime, got)
	}
}

func TestThrottleImmediatelyEligibleWhenInserted(t *testing.T) {
	now := time.Now()
	th := newThrottle(now)
	if !th.eligible(now) {
		t.Fatalf("a freshly inserted throttle (addressless peer) should be immediately eligible")
	}
}
