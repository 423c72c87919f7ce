package agent

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{
			name: "full successful cycle",
			path: []State{StateChecking, StateDownloading, StateInstalling, StateRestarting},
		},
		{
			name: "nothing pending returns to idle",
			path: []State{StateChecking, StateIdle},
		},
		{
			name: "download failure",
			path: []State{StateChecking, StateDownloading, StateFailed, StateIdle},
		},
		{
			name: "install failure",
			path: []State{StateChecking, StateDownloading, StateInstalling, StateFailed, StateIdle},
		},
		{
			name:    "cannot skip download",
			path:    []State{StateChecking, StateInstalling},
			wantErr: true,
		},
		{
			name:    "cannot fail from checking",
			path:    []State{StateChecking, StateFailed},
			wantErr: true,
		},
		{
			name:    "cannot restart from idle",
			path:    []State{StateRestarting},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newStateMachine()
			var err error
			for _, next := range tt.path {
				if err = m.transition(next); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("path %v error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestStateMachineTryBegin(t *testing.T) {
	m := newStateMachine()

	if !m.tryBegin() {
		t.Fatal("tryBegin() from idle = false, want true")
	}
	if m.State() != StateChecking {
		t.Fatalf("state after tryBegin = %s, want checking", m.State())
	}

	// A second cycle must not start while one is running.
	if m.tryBegin() {
		t.Fatal("tryBegin() while checking = true, want false")
	}
	if err := m.transition(StateDownloading); err != nil {
		t.Fatalf("transition to downloading: %v", err)
	}
	if m.tryBegin() {
		t.Fatal("tryBegin() while downloading = true, want false")
	}

	m.reset()
	if m.State() != StateIdle {
		t.Fatalf("state after reset = %s, want idle", m.State())
	}
	if !m.tryBegin() {
		t.Fatal("tryBegin() after reset = false, want true")
	}
}

func TestStateString(t *testing.T) {
	pairs := map[State]string{
		StateIdle:        "idle",
		StateChecking:    "checking",
		StateDownloading: "downloading",
		StateInstalling:  "installing",
		StateRestarting:  "restarting",
		StateFailed:      "failed",
	}
	for state, want := range pairs {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
