package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shreyashguptas/javia-sub000/services/registry"
)

func TestInMaintenanceWindow(t *testing.T) {
	// 2026-06-10 in Los Angeles is UTC-7, so the 02:00 local window opens at
	// 09:00 UTC.
	tests := []struct {
		name string
		tz   string
		now  time.Time
		want bool
	}{
		{
			name: "inside window",
			tz:   "America/Los_Angeles",
			now:  time.Date(2026, 6, 10, 9, 30, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "window opens exactly at start",
			tz:   "America/Los_Angeles",
			now:  time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "last second of the window",
			tz:   "America/Los_Angeles",
			now:  time.Date(2026, 6, 10, 9, 59, 59, 0, time.UTC),
			want: true,
		},
		{
			name: "window closes at the hour",
			tz:   "America/Los_Angeles",
			now:  time.Date(2026, 6, 10, 10, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "before the window",
			tz:   "America/Los_Angeles",
			now:  time.Date(2026, 6, 10, 8, 59, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "midday local",
			tz:   "America/Los_Angeles",
			now:  time.Date(2026, 6, 10, 19, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "unknown zone falls back to utc",
			tz:   "Not/AZone",
			now:  time.Date(2026, 6, 10, 2, 30, 0, 0, time.UTC),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inMaintenanceWindow(tt.tz, tt.now, DefaultWindowStartHour, DefaultWindowLength)
			if got != tt.want {
				t.Fatalf("inMaintenanceWindow(%q, %s) = %v, want %v", tt.tz, tt.now, got, tt.want)
			}
		})
	}
}

func TestNextMaintenanceWindow(t *testing.T) {
	// 05:00 local, same day: the window already closed, so the next opening
	// is tomorrow 02:00 local (09:00 UTC in summer).
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	got := nextMaintenanceWindow("America/Los_Angeles", now, DefaultWindowStartHour)
	want := time.Date(2026, 6, 11, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextMaintenanceWindow() = %s, want %s", got, want)
	}

	// Before the window on the same day: the opening is still ahead.
	now = time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	got = nextMaintenanceWindow("America/Los_Angeles", now, DefaultWindowStartHour)
	want = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextMaintenanceWindow() = %s, want %s", got, want)
	}
}

func TestFanOutTargets(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	active := registry.Device{ID: uuid.New(), LastSeenAt: now.Add(-100 * time.Second)}
	stale := registry.Device{ID: uuid.New(), LastSeenAt: now.Add(-400 * time.Second)}
	devices := []registry.Device{active, stale}

	t.Run("instant excludes devices past the heartbeat interval", func(t *testing.T) {
		got := fanOutTargets(PolicyInstant, devices, now)
		if len(got) != 1 || got[0].ID != active.ID {
			t.Fatalf("fanOutTargets(instant) = %v, want only the active device", got)
		}
	})

	t.Run("scheduled targets the whole fleet", func(t *testing.T) {
		if got := fanOutTargets(PolicyScheduled, devices, now); len(got) != 2 {
			t.Fatalf("fanOutTargets(scheduled) returned %d devices, want 2", len(got))
		}
	})

	t.Run("urgent targets the whole fleet", func(t *testing.T) {
		if got := fanOutTargets(PolicyUrgent, devices, now); len(got) != 2 {
			t.Fatalf("fanOutTargets(urgent) returned %d devices, want 2", len(got))
		}
	})
}

func TestPickEligible(t *testing.T) {
	// Midday in Los Angeles: the maintenance window is closed.
	now := time.Date(2026, 6, 10, 19, 0, 0, 0, time.UTC)
	tz := "America/Los_Angeles"

	pendingRow := func(status string) Rollout {
		return Rollout{ID: uuid.New(), Status: status}
	}
	update := func(policy Policy, createdAt time.Time) Update {
		return Update{ID: uuid.New(), Policy: policy, CreatedAt: createdAt}
	}

	older := update(PolicyInstant, now.Add(-2*time.Hour))
	newer := update(PolicyUrgent, now.Add(-time.Hour))
	scheduled := update(PolicyScheduled, now.Add(-3*time.Hour))

	t.Run("oldest eligible update wins", func(t *testing.T) {
		pending := []PendingUpdate{
			{Rollout: pendingRow(StatusPending), Update: newer},
			{Rollout: pendingRow(StatusPending), Update: older},
		}
		got := pickEligible(pending, tz, now, DefaultWindowStartHour, DefaultWindowLength)
		if got == nil || got.Update.ID != older.ID {
			t.Fatalf("pickEligible() = %v, want update %s", got, older.ID)
		}
	})

	t.Run("scheduled is filtered outside the window", func(t *testing.T) {
		pending := []PendingUpdate{
			{Rollout: pendingRow(StatusPending), Update: scheduled},
			{Rollout: pendingRow(StatusPending), Update: newer},
		}
		got := pickEligible(pending, tz, now, DefaultWindowStartHour, DefaultWindowLength)
		if got == nil || got.Update.ID != newer.ID {
			t.Fatalf("pickEligible() = %v, want the urgent update", got)
		}
	})

	t.Run("scheduled wins inside the window", func(t *testing.T) {
		// 02:30 local.
		inWindow := time.Date(2026, 6, 10, 9, 30, 0, 0, time.UTC)
		pending := []PendingUpdate{
			{Rollout: pendingRow(StatusPending), Update: scheduled},
			{Rollout: pendingRow(StatusPending), Update: newer},
		}
		got := pickEligible(pending, tz, inWindow, DefaultWindowStartHour, DefaultWindowLength)
		if got == nil || got.Update.ID != scheduled.ID {
			t.Fatalf("pickEligible() = %v, want the oldest scheduled update", got)
		}
	})

	t.Run("non-pending rollouts are skipped", func(t *testing.T) {
		pending := []PendingUpdate{
			{Rollout: pendingRow(StatusFailed), Update: older},
		}
		if got := pickEligible(pending, tz, now, DefaultWindowStartHour, DefaultWindowLength); got != nil {
			t.Fatalf("pickEligible() = %v, want nil", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := pickEligible(nil, tz, now, DefaultWindowStartHour, DefaultWindowLength); got != nil {
			t.Fatalf("pickEligible(nil) = %v, want nil", got)
		}
	})
}
