package agent

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func TestActivityTrackerUrgentGate(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	tracker := newActivityTracker(clk)

	if tracker.QuietEnoughForUrgent() {
		t.Fatal("fresh tracker reports quiet, want active")
	}

	clk.Advance(30 * time.Minute)
	if tracker.QuietEnoughForUrgent() {
		t.Fatal("30 minutes idle reports quiet, want active")
	}

	clk.Advance(30 * time.Minute)
	if !tracker.QuietEnoughForUrgent() {
		t.Fatal("one hour idle reports active, want quiet")
	}

	// Any interaction resets the idle countdown completely.
	tracker.Touch()
	if tracker.QuietEnoughForUrgent() {
		t.Fatal("tracker quiet right after interaction")
	}
	clk.Advance(59 * time.Minute)
	if tracker.QuietEnoughForUrgent() {
		t.Fatal("59 minutes after interaction reports quiet")
	}
	clk.Advance(time.Minute)
	if !tracker.QuietEnoughForUrgent() {
		t.Fatal("one hour after interaction reports active")
	}
}

func TestActivityTrackerIdleFor(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	tracker := newActivityTracker(clk)

	clk.Advance(5 * time.Minute)
	if got := tracker.IdleFor(); got != 5*time.Minute {
		t.Fatalf("IdleFor() = %s, want 5m", got)
	}
}
