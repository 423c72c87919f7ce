package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shreyashguptas/javia-sub000/pkg/bus"
	"github.com/shreyashguptas/javia-sub000/services/registry"
)

const (
	heartbeatSubject     = "javia.devices.heartbeat"
	rolloutStatusSubject = "javia.rollouts.status"

	sweepInterval = time.Minute
)

var (
	rolloutStatusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "javia_rollout_status_events_total",
		Help: "Rollout status transitions observed on the bus.",
	}, []string{"status"})

	inFlightRollouts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "javia_rollouts_in_flight",
		Help: "Devices currently downloading or installing an update.",
	})

	devicesMarkedOffline = promauto.NewCounter(prometheus.CounterOpts{
		Name: "javia_devices_marked_offline_total",
		Help: "Devices flipped to offline by the liveness sweep.",
	})
)

// Monitor consumes fleet events to keep an in-memory view of which devices
// are mid-rollout, and periodically sweeps silent devices to offline.
type Monitor struct {
	registry *registry.Registry
	bus      *bus.Bus
	clock    clock.Clock
	logger   *log.Logger

	activeMu sync.RWMutex
	active   map[uuid.UUID]uuid.UUID

	subsMu sync.Mutex
	subs   []io.Closer
}

// NewMonitor creates a Monitor bound to the provided dependencies.
func NewMonitor(reg *registry.Registry, b *bus.Bus, clk clock.Clock, logger *log.Logger) (*Monitor, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Monitor{
		registry: reg,
		bus:      b,
		clock:    clk,
		logger:   logger,
		active:   make(map[uuid.UUID]uuid.UUID),
	}, nil
}

// Start registers bus subscriptions and launches the offline sweep. It
// returns once subscriptions are in place; processing continues until ctx is
// cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("nil monitor")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	specs := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{rolloutStatusSubject, "monitor-rollouts", m.handleRolloutStatus},
		{heartbeatSubject, "monitor-heartbeats", m.handleHeartbeat},
	}

	for _, spec := range specs {
		closer, err := m.bus.Subscribe(ctx, spec.subject, spec.durable, spec.handler)
		if err != nil {
			m.Close()
			return err
		}
		m.subsMu.Lock()
		m.subs = append(m.subs, closer)
		m.subsMu.Unlock()
	}

	go m.sweepLoop(ctx)

	return nil
}

// Close tears down active subscriptions.
func (m *Monitor) Close() error {
	if m == nil {
		return nil
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	var firstErr error
	for _, sub := range m.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.subs = nil
	return firstErr
}

// InFlightUpdate reports which update, if any, a device is actively applying
// according to the event stream.
func (m *Monitor) InFlightUpdate(deviceID uuid.UUID) (uuid.UUID, bool) {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	updateID, ok := m.active[deviceID]
	return updateID, ok
}

type rolloutStatusEvent struct {
	RolloutID uuid.UUID `json:"rollout_id"`
	DeviceID  uuid.UUID `json:"device_id"`
	UpdateID  uuid.UUID `json:"update_id"`
	Status    string    `json:"status"`
}

func (m *Monitor) handleRolloutStatus(ctx context.Context, data []byte) error {
	var evt rolloutStatusEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.DeviceID == uuid.Nil || evt.UpdateID == uuid.Nil {
		return errors.New("rollout status event missing ids")
	}

	rolloutStatusEvents.WithLabelValues(evt.Status).Inc()

	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if InFlight(evt.Status) {
		m.active[evt.DeviceID] = evt.UpdateID
	} else if current, ok := m.active[evt.DeviceID]; ok && current == evt.UpdateID {
		delete(m.active, evt.DeviceID)
	}
	inFlightRollouts.Set(float64(len(m.active)))

	return nil
}

type heartbeatEvent struct {
	DeviceID uuid.UUID `json:"device_id"`
}

func (m *Monitor) handleHeartbeat(ctx context.Context, data []byte) error {
	var evt heartbeatEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	// Heartbeats are persisted by the registry before the event is published;
	// the monitor only needs them to keep the durable consumer drained.
	return nil
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	timer := m.clock.NewTimer(sweepInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			n, err := m.registry.MarkStaleOffline(ctx)
			if err != nil {
				m.logger.Printf("ERROR offline sweep failed: %v", err)
			} else if n > 0 {
				devicesMarkedOffline.Add(float64(n))
				m.logger.Printf("INFO marked %d devices offline", n)
			}
			timer.Reset(sweepInterval)
		}
	}
}
