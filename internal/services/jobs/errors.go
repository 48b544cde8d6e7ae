package jobs

import "errors"

var (
	// ErrNotFound is returned by Get for an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrValidation is returned by Submit for a malformed submission.
	ErrValidation = errors.New("invalid job submission")

	// ErrFatalJobKind marks a job whose kind has no registered handler.
	// Such jobs fail terminally with no retry.
	ErrFatalJobKind = errors.New("unknown job kind")
)
