package agent

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// urgentIdleThreshold is how long the workload must be idle before the agent
// will act on an urgent rollout.
const urgentIdleThreshold = time.Hour

// activityTracker records when the workload last interacted with a user so
// urgent installs can wait for a quiet moment.
type activityTracker struct {
	mu    sync.Mutex
	clock clock.Clock
	last  time.Time
}

func newActivityTracker(clk clock.Clock) *activityTracker {
	return &activityTracker{clock: clk, last: clk.Now()}
}

// Touch marks the workload as active right now.
func (a *activityTracker) Touch() {
	a.mu.Lock()
	a.last = a.clock.Now()
	a.mu.Unlock()
}

// IdleFor reports how long the workload has been quiet.
func (a *activityTracker) IdleFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clock.Now().Sub(a.last)
}

// QuietEnoughForUrgent reports whether an urgent rollout may proceed.
func (a *activityTracker) QuietEnoughForUrgent() bool {
	return a.IdleFor() >= urgentIdleThreshold
}
