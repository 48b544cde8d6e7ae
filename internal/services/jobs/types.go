package jobs

import (
	"context"
	"sync"
	"time"

	"backbone/internal/eventbus"
	"backbone/internal/storage"
	"backbone/pkg/logx"
)

// Status is the closed set of job states.
//
// Transitions:
//
//	pending -> running -> completed
//	pending -> running -> pending   (handler failed, retries left)
//	pending -> running -> failed    (retries exhausted, or unknown kind)
//	pending | running -> cancelled
//
// completed, failed and cancelled are terminal.
type Status uint8

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further automatic transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a unit of asynchronous work owned by the Service.
//
// All fields are snapshots; the Service hands out copies, never the
// record it mutates.
type Job struct {
	ID         string
	Kind       string
	Payload    []byte
	Status     Status
	RetryCount int
	MaxRetries int
	CreatedAt  time.Time
	StartedAt  time.Time
	DoneAt     time.Time
	Error      string
}

// Handler executes one job attempt. A nil error completes the job; any
// error counts as a failed attempt and is retried up to the job's bound.
type Handler func(ctx context.Context, job Job) error

// Config controls the job service.
type Config struct {
	Enabled bool

	// ScanInterval is the worker loop cadence. Submissions also wake the
	// worker explicitly, so this mainly bounds retry latency.
	ScanInterval time.Duration

	// Retention bounds how long terminal jobs stay visible to Get/List
	// before a Sweep evicts them.
	Retention time.Duration

	// DefaultMaxRetries applies when Submit is called with a negative bound.
	DefaultMaxRetries int
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 3
	}
	return c
}

// Event is the payload published on the bus for every status transition.
type Event struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	From       string `json:"from"`
	To         string `json:"to"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

type Service struct {
	mu    sync.Mutex
	cfg   Config
	jobs  map[string]*Job
	order []string // insertion order of job IDs

	rmu      sync.RWMutex
	handlers map[string]Handler

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	wake     chan struct{}
	stopCh   chan struct{}
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled   bool
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}
