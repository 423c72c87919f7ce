package scheduler

import (
	"errors"
	"testing"
)

func TestParseVersion(t *testing.T) {
	if _, err := parseVersion("1.4.0"); err != nil {
		t.Fatalf("parseVersion(1.4.0) error = %v", err)
	}
	if _, err := parseVersion("not-a-version"); err == nil {
		t.Fatal("parseVersion(not-a-version) expected error")
	}
}

func TestCheckVersionAdvances(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		existing  []string
		wantErr   error
	}{
		{
			name:      "first update ever",
			candidate: "1.0.0",
			existing:  nil,
		},
		{
			name:      "advances past all existing",
			candidate: "1.4.0",
			existing:  []string{"1.2.0", "1.3.0"},
		},
		{
			name:      "duplicate of existing",
			candidate: "1.3.0",
			existing:  []string{"1.2.0", "1.3.0"},
			wantErr:   ErrDuplicateVersion,
		},
		{
			name:      "older than existing",
			candidate: "1.1.0",
			existing:  []string{"1.2.0"},
			wantErr:   ErrVersionOrderViolation,
		},
		{
			name:      "patch-level regression",
			candidate: "1.2.1",
			existing:  []string{"1.2.2"},
			wantErr:   ErrVersionOrderViolation,
		},
		{
			name:      "malformed historical version is skipped",
			candidate: "1.4.0",
			existing:  []string{"garbage", "1.3.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate, err := parseVersion(tt.candidate)
			if err != nil {
				t.Fatalf("parseVersion(%q) error = %v", tt.candidate, err)
			}
			err = checkVersionAdvances(candidate, tt.existing)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("checkVersionAdvances(%q, %v) error = %v, want %v", tt.candidate, tt.existing, err, tt.wantErr)
			}
		})
	}
}
