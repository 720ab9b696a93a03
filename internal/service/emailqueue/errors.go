package emailqueue

import "errors"

// Sentinel errors for the email queue service layer.
var (
	ErrNotFound     = errors.New("queued email not found")
	ErrInvalidInput = errors.New("invalid email queue input")
	// ErrNotPending is returned when an update targets a record that has
	// already reached a terminal status.
	ErrNotPending = errors.New("queued email is no longer pending")
)
