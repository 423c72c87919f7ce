package scheduler

import (
	"fmt"

	"github.com/juju/version/v2"
)

// parseVersion validates a semantic version string.
func parseVersion(s string) (version.Number, error) {
	num, err := version.Parse(s)
	if err != nil {
		return version.Zero, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return num, nil
}

// checkVersionAdvances enforces the catalog invariant: every accepted update
// is strictly newer than everything before it. Equal versions are duplicates;
// older versions are order violations.
func checkVersionAdvances(candidate version.Number, existing []string) error {
	for _, raw := range existing {
		prev, err := version.Parse(raw)
		if err != nil {
			// A malformed historical version never blocks new updates.
			continue
		}
		switch candidate.Compare(prev) {
		case 0:
			return ErrDuplicateVersion
		case -1:
			return ErrVersionOrderViolation
		}
	}
	return nil
}
