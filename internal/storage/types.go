package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// JobRecord is the archived form of a terminal job.
// Keep it compact and schema-stable.
type JobRecord struct {
	ID         string
	Kind       string
	Status     string
	RetryCount int
	Error      string
	CreatedAt  time.Time
	DoneAt     time.Time
}
