package scheduler

import (
	"time"

	"github.com/shreyashguptas/javia-sub000/services/registry"
)

const (
	// DefaultWindowStartHour is the device-local hour the maintenance window
	// opens for scheduled rollouts.
	DefaultWindowStartHour = 2
	// DefaultWindowLength bounds how long the window stays open.
	DefaultWindowLength = time.Hour
)

// eligibleNow reports whether a pending rollout under the given policy may be
// acted on at now. Urgent rollouts are always eligible server-side: the agent
// applies its own continuous-idle gate before acting.
func eligibleNow(policy Policy, tz string, now time.Time, startHour int, window time.Duration) bool {
	switch policy {
	case PolicyInstant, PolicyUrgent:
		return true
	case PolicyScheduled:
		return inMaintenanceWindow(tz, now, startHour, window)
	default:
		return false
	}
}

// inMaintenanceWindow converts now to the device's local wall clock and
// checks it against the [startHour:00, startHour:00+window) interval. An
// unknown zone name falls back to UTC rather than blocking the rollout
// forever.
func inMaintenanceWindow(tz string, now time.Time, startHour int, window time.Duration) bool {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), startHour, 0, 0, 0, loc)
	if local.Before(start) {
		return false
	}
	return local.Sub(start) < window
}

// nextMaintenanceWindow returns the next opening of the device-local window
// at or after now. Recorded on scheduled rollouts as scheduled_for.
func nextMaintenanceWindow(tz string, now time.Time, startHour int) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), startHour, 0, 0, 0, loc)
	if !start.After(local) {
		start = start.AddDate(0, 0, 1)
	}
	return start.UTC()
}

// fanOutTargets selects which devices receive a rollout row for a new update.
// Scheduled and urgent updates target the whole fleet; instant updates only
// devices seen within the heartbeat interval of creation time. Devices
// outside that window never receive the update through this path.
func fanOutTargets(policy Policy, devices []registry.Device, now time.Time) []registry.Device {
	if policy != PolicyInstant {
		return devices
	}
	cutoff := now.Add(-registry.HeartbeatInterval)
	targets := make([]registry.Device, 0, len(devices))
	for _, d := range devices {
		if !d.LastSeenAt.Before(cutoff) {
			targets = append(targets, d)
		}
	}
	return targets
}

// pickEligible filters pending rollouts to those eligible at now and returns
// the one whose update is oldest by created_at, matching the rule that an
// older catalog entry installs first when several are eligible at once.
func pickEligible(pending []PendingUpdate, tz string, now time.Time, startHour int, window time.Duration) *PendingUpdate {
	var chosen *PendingUpdate
	for i := range pending {
		p := &pending[i]
		if p.Rollout.Status != StatusPending {
			continue
		}
		if !eligibleNow(p.Update.Policy, tz, now, startHour, window) {
			continue
		}
		if chosen == nil || p.Update.CreatedAt.Before(chosen.Update.CreatedAt) {
			chosen = p
		}
	}
	return chosen
}
