package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/clock"

	"github.com/shreyashguptas/javia-sub000/pkg/pkgsign"
)

const (
	heartbeatInterval = 5 * time.Minute
	checkInterval     = time.Minute
	installTimeout    = 30 * time.Minute

	policyUrgent = "urgent"
)

// Service is the long-running background process that keeps one device's
// application current with the fleet control plane.
type Service struct {
	client    *Client
	config    Config
	logger    *log.Logger
	clock     clock.Clock
	sm        *stateMachine
	activity  *activityTracker
	installer *installer
	backoff   *backoff.ExponentialBackOff

	// version is read by the heartbeat goroutine and written when an install
	// lands.
	versionMu sync.Mutex
	version   string
}

// NewService loads configuration from the provided path and returns an
// initialized Service instance.
func NewService(configPath string, clk clock.Clock) (*Service, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.WallClock
	}

	deviceID, err := ensureDeviceID(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(cfg.API, deviceID)
	if err != nil {
		return nil, err
	}

	var verifier *pkgsign.Signer
	if strings.TrimSpace(cfg.SignerPublicKey) != "" {
		verifier, err = pkgsign.NewVerifier(cfg.SignerPublicKey)
		if err != nil {
			return nil, fmt.Errorf("load signer public key: %w", err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Minute
	bo.MaxInterval = 30 * time.Minute

	return &Service{
		client:    client,
		config:    cfg,
		logger:    log.New(os.Stdout, "javia-agent: ", log.LstdFlags),
		clock:     clk,
		sm:        newStateMachine(),
		activity:  newActivityTracker(clk),
		installer: newInstaller(cfg, verifier),
		backoff:   bo,
		version:   readInstalledVersion(cfg.StateDir),
	}, nil
}

// DeviceID returns the persisted identity this agent enrolls under.
func (s *Service) DeviceID() string {
	return s.client.deviceID.String()
}

func (s *Service) currentVersion() string {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	return s.version
}

func (s *Service) setVersion(v string) {
	s.versionMu.Lock()
	s.version = v
	s.versionMu.Unlock()
}

// BeforeInteraction must be called by the workload integration before each
// user-triggered operation. It feeds the idle gate for urgent rollouts and
// runs a full update check so pending work is applied ahead of the
// interaction; the periodic timer is only the fallback cadence. The call is a
// no-op while a cycle is already running.
func (s *Service) BeforeInteraction(ctx context.Context) {
	s.activity.Touch()
	if err := s.checkOnce(ctx); err != nil {
		s.logger.Printf("pre-interaction update check failed: %v", err)
	}
}

// Run executes the agent loop until the provided context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	s.logger.Printf("registered as %s (version %q)", s.DeviceID(), s.currentVersion())

	go s.heartbeatLoop(ctx)

	// First check happens after the backoff delay when the previous attempt
	// failed, otherwise on the regular cadence.
	timer := s.clock.NewTimer(checkInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			if err := s.checkOnce(ctx); err != nil {
				s.logger.Printf("update attempt failed: %v", err)
				timer.Reset(s.backoff.NextBackOff())
				continue
			}
			s.backoff.Reset()
			timer.Reset(checkInterval)
		}
	}
}

func (s *Service) register(ctx context.Context) error {
	metadata := map[string]any{
		"agent": "javia-agent",
	}
	if host, err := os.Hostname(); err == nil {
		metadata["hostname"] = host
	}
	return s.client.Register(ctx, s.config.DisplayName, s.config.Timezone, metadata)
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	timer := s.clock.NewTimer(heartbeatInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			if err := s.client.Heartbeat(ctx, s.currentVersion(), nil); err != nil {
				s.logger.Printf("heartbeat failed: %v", err)
			}
			timer.Reset(heartbeatInterval)
		}
	}
}

// checkOnce asks the server for pending work and applies it. A nil error means
// either nothing was pending or an update was applied successfully.
func (s *Service) checkOnce(ctx context.Context) error {
	if !s.sm.tryBegin() {
		// An install is already running; leave it alone.
		return nil
	}

	pending, err := s.client.CheckPending(ctx)
	if err != nil {
		s.sm.reset()
		return err
	}
	if pending == nil {
		s.sm.reset()
		return nil
	}

	if pending.Update.Policy == policyUrgent && !s.activity.QuietEnoughForUrgent() {
		s.logger.Printf("deferring urgent update %s, device active %s ago",
			pending.Update.Version, s.activity.IdleFor().Round(time.Second))
		s.sm.reset()
		return nil
	}

	// Once the install starts it must run to completion even if the agent is
	// being shut down; a half-applied update is worse than a late one.
	installCtx, cancel := context.WithTimeout(context.Background(), installTimeout)
	defer cancel()

	if err := s.applyUpdate(installCtx, pending); err != nil {
		_ = s.sm.transition(StateFailed)
		s.reportFailure(installCtx, pending, err)
		s.sm.reset()
		return err
	}

	s.sm.reset()
	return nil
}

func (s *Service) applyUpdate(ctx context.Context, pending *PendingUpdate) error {
	update := pending.Update
	s.logger.Printf("applying update %s (%s policy)", update.Version, update.Policy)

	if err := s.sm.transition(StateDownloading); err != nil {
		return err
	}
	if err := s.client.ReportStatus(ctx, update.ID, "downloading", ""); err != nil {
		return fmt.Errorf("report downloading: %w", err)
	}

	archivePath, err := s.installer.Stage()
	if err != nil {
		return err
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if _, _, err := s.client.Download(ctx, update.ID, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("flush staged package: %w", err)
	}

	if err := s.installer.Verify(archivePath, update); err != nil {
		return err
	}
	extracted, err := s.installer.Extract(archivePath)
	if err != nil {
		return err
	}

	if err := s.sm.transition(StateInstalling); err != nil {
		return err
	}
	if err := s.client.ReportStatus(ctx, update.ID, "installing", ""); err != nil {
		return fmt.Errorf("report installing: %w", err)
	}

	if update.RequiresSystemPackages {
		if err := s.installer.InstallSystemPackages(ctx, update.SystemPackages); err != nil {
			return err
		}
	}

	s.runHook(ctx, "stop", s.config.StopCommand)

	if err := s.installer.Swap(extracted); err != nil {
		s.runHook(ctx, "restart", s.config.RestartCommand)
		return err
	}

	if err := s.sm.transition(StateRestarting); err != nil {
		return err
	}

	if err := writeInstalledVersion(s.config.StateDir, update.Version); err != nil {
		s.logger.Printf("failed to record installed version: %v", err)
	}
	s.setVersion(update.Version)
	s.installer.Cleanup()

	// Report completion before the restart: the supervisor may recycle this
	// process along with the workload, and an unreported rollout would be
	// stranded in installing.
	if err := s.client.ReportStatus(ctx, update.ID, "completed", ""); err != nil {
		s.logger.Printf("failed to report completion: %v", err)
	}
	s.logger.Printf("update %s applied", update.Version)

	s.runHook(ctx, "restart", s.config.RestartCommand)
	return nil
}

func (s *Service) reportFailure(ctx context.Context, pending *PendingUpdate, cause error) {
	if err := s.client.ReportStatus(ctx, pending.Update.ID, "failed", cause.Error()); err != nil {
		s.logger.Printf("failed to report failure: %v", err)
	}
}

// runHook executes an optional workload lifecycle command. Hook failures are
// logged but never abort an update; the workload supervisor owns recovery.
func (s *Service) runHook(ctx context.Context, name string, command []string) {
	if len(command) == 0 {
		return
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.logger.Printf("%s hook failed: %v: %s", name, err, strings.TrimSpace(string(out)))
	}
}
