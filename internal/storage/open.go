package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"backbone/pkg/logx"
)

// Store is the minimal persistence API used by the services.
type Store interface {
	AppendJob(ctx context.Context, r JobRecord) error
	ListJobs(ctx context.Context, limit int) ([]JobRecord, error)
	PutRevocation(ctx context.Context, tokenID string, until time.Time) error
	GetRevocation(ctx context.Context, tokenID string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
