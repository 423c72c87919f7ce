package scheduler

import "errors"

// Validation errors surfaced to API callers by taxonomy name.
var (
	ErrDuplicateVersion      = errors.New("DuplicateVersion")
	ErrVersionOrderViolation = errors.New("VersionOrderViolation")
	ErrInvalidTransition     = errors.New("InvalidTransition")
	ErrUnknownUpdate         = errors.New("UnknownUpdate")
	ErrUnknownRollout        = errors.New("UnknownRollout")
)
