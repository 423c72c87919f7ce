package scheduler

import (
	"fmt"
	"strings"
)

// Policy controls when a pending rollout becomes eligible on a device.
type Policy string

const (
	// PolicyScheduled defers installation to the device-local maintenance
	// window.
	PolicyScheduled Policy = "scheduled"
	// PolicyUrgent installs as soon as the device has been idle long enough;
	// the server marks the rollout eligible and the agent applies its own
	// idle gate.
	PolicyUrgent Policy = "urgent"
	// PolicyInstant installs immediately, and only targets devices that were
	// recently active at creation time.
	PolicyInstant Policy = "instant"
)

// ParsePolicy normalises and validates a policy string.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyScheduled, PolicyUrgent, PolicyInstant:
		return p, nil
	default:
		return "", fmt.Errorf("unknown policy %q", s)
	}
}

// Rollout status values. A rollout row is an audit trail: it only ever moves
// forward through these states and is never deleted.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusInstalling  = "installing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// legalTransitions maps each rollout status to the statuses a device may
// report next. completed and failed are terminal.
var legalTransitions = map[string][]string{
	StatusPending:     {StatusDownloading},
	StatusDownloading: {StatusInstalling, StatusFailed},
	StatusInstalling:  {StatusCompleted, StatusFailed},
	StatusCompleted:   {},
	StatusFailed:      {},
}

func transitionAllowed(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InFlight reports whether a rollout status means the device is actively
// downloading or installing. At most one rollout per device may be in flight.
func InFlight(status string) bool {
	return status == StatusDownloading || status == StatusInstalling
}
