// Package api exposes the fleet control plane over HTTP: device enrollment
// and heartbeats, update creation, pending-update checks, package downloads,
// and rollout status reports.
package api

import (
	"errors"
	"os"
	"time"

	"github.com/shreyashguptas/javia-sub000/pkg/bus"
	"github.com/shreyashguptas/javia-sub000/services/registry"
	"github.com/shreyashguptas/javia-sub000/services/scheduler"
)

const (
	defaultPresignTTL = 15 * time.Minute

	registeredTopic    = "javia.devices.registered"
	heartbeatTopic     = "javia.devices.heartbeat"
	updateCreatedTopic = "javia.updates.created"
	rolloutStatusTopic = "javia.rollouts.status"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// AdminToken is the shared secret distinguishing admin calls from device
	// calls.
	AdminToken string
	// PresignTTL bounds the lifetime of package inspection URLs.
	PresignTTL time.Duration
}

// API wires the registry, scheduler, and event bus behind the HTTP handlers.
type API struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	bus       *bus.Bus
	config    Config
}

// New initialises the API layer with sane defaults applied to the provided
// configuration.
func New(reg *registry.Registry, sched *scheduler.Scheduler, b *bus.Bus, cfg Config) (*API, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}

	if cfg.AdminToken == "" {
		cfg.AdminToken = os.Getenv("FLEET_ADMIN_TOKEN")
	}
	if cfg.AdminToken == "" {
		return nil, errors.New("admin token is required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}

	return &API{
		registry:  reg,
		scheduler: sched,
		bus:       b,
		config:    cfg,
	}, nil
}
