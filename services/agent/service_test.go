package agent

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"

	"github.com/shreyashguptas/javia-sub000/pkg/archive"
)

func TestVersionConcurrentAccess(t *testing.T) {
	s := &Service{version: "1.0.0"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = s.currentVersion()
			}
		}()
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.setVersion(fmt.Sprintf("1.%d.%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	if s.currentVersion() == "" {
		t.Fatal("version lost after concurrent writes")
	}
}

func TestBeforeInteractionRunsCheck(t *testing.T) {
	var (
		mu     sync.Mutex
		checks int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		checks++
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"pending": nil})
	}))
	defer srv.Close()

	root := t.TempDir()
	configPath := filepath.Join(root, "agent.conf")
	conf := fmt.Sprintf(`{"api":%q,"state_dir":%q,"install_dir":%q}`,
		srv.URL, filepath.Join(root, "state"), filepath.Join(root, "app"))
	if err := os.WriteFile(configPath, []byte(conf), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clk := testclock.NewClock(time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	svc, err := NewService(configPath, clk)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	svc.BeforeInteraction(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if checks != 1 {
		t.Fatalf("pre-interaction hook ran %d checks, want 1", checks)
	}

	// The hook also counts as workload activity for the urgent idle gate.
	if svc.activity.QuietEnoughForUrgent() {
		t.Fatal("device reports quiet immediately after an interaction")
	}
}

func TestApplyUpdateReportsCompletedBeforeRestart(t *testing.T) {
	root := t.TempDir()
	restartMarker := filepath.Join(root, "restarted")

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "main.py"), []byte("v2"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	var pkg bytes.Buffer
	if err := archive.Pack(&pkg, src); err != nil {
		t.Fatalf("pack: %v", err)
	}
	digest := sha256.Sum256(pkg.Bytes())

	updateID := uuid.New()
	var (
		mu                  sync.Mutex
		statuses            []string
		restartedAtComplete bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.Write(pkg.Bytes())
		case r.Method == http.MethodPost:
			var body struct {
				Status string `json:"status"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			statuses = append(statuses, body.Status)
			if body.Status == "completed" {
				_, err := os.Stat(restartMarker)
				restartedAtComplete = err == nil
			}
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	cfg := Config{
		API:            srv.URL,
		StateDir:       filepath.Join(root, "state"),
		InstallDir:     filepath.Join(root, "app"),
		PreserveFiles:  []string{"config.json"},
		RestartCommand: []string{"touch", restartMarker},
	}
	client, err := NewClient(cfg.API, uuid.New())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	clk := testclock.NewClock(time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC))
	svc := &Service{
		client:    client,
		config:    cfg,
		logger:    log.New(io.Discard, "", 0),
		clock:     clk,
		sm:        newStateMachine(),
		activity:  newActivityTracker(clk),
		installer: newInstaller(cfg, nil),
		backoff:   backoff.NewExponentialBackOff(),
	}
	if !svc.sm.tryBegin() {
		t.Fatal("tryBegin() failed on a fresh state machine")
	}

	pending := &PendingUpdate{
		Update: UpdateInfo{
			ID:            updateID,
			Version:       "1.1.0",
			Policy:        "instant",
			PackageSHA256: hex.EncodeToString(digest[:]),
			PackageSize:   int64(pkg.Len()),
		},
	}
	if err := svc.applyUpdate(context.Background(), pending); err != nil {
		t.Fatalf("applyUpdate() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	wantStatuses := []string{"downloading", "installing", "completed"}
	if len(statuses) != len(wantStatuses) {
		t.Fatalf("reported statuses = %v, want %v", statuses, wantStatuses)
	}
	for i, want := range wantStatuses {
		if statuses[i] != want {
			t.Fatalf("reported statuses = %v, want %v", statuses, wantStatuses)
		}
	}
	if restartedAtComplete {
		t.Fatal("restart hook ran before the completed report")
	}
	if _, err := os.Stat(restartMarker); err != nil {
		t.Fatalf("restart hook never ran: %v", err)
	}

	if got := readInstalledVersion(cfg.StateDir); got != "1.1.0" {
		t.Fatalf("installed version marker = %q, want 1.1.0", got)
	}
	if got := svc.currentVersion(); got != "1.1.0" {
		t.Fatalf("in-memory version = %q, want 1.1.0", got)
	}
}
