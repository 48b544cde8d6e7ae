package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"backbone/internal/storage"
	"backbone/pkg/logx"
)

// worker is the single long-lived loop that executes pending jobs. It wakes
// on a fixed cadence and on explicit submission wake-ups, so a submitted job
// normally starts well before the next tick.
func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		s.mu.Lock()
		interval := s.cfg.ScanInterval
		enabled := s.cfg.Enabled
		s.mu.Unlock()

		tmr := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return
		case <-stopCh:
			tmr.Stop()
			return
		case <-s.wake:
			tmr.Stop()
		case <-tmr.C:
		}

		if enabled {
			s.scan(ctx, stopCh)
		}
	}
}

// scan executes every job that is pending at scan time, in insertion order.
func (s *Service) scan(ctx context.Context, stopCh <-chan struct{}) {
	s.mu.Lock()
	pending := make([]string, 0, 8)
	for _, id := range s.order {
		if s.jobs[id].Status == StatusPending {
			pending = append(pending, id)
		}
	}
	s.mu.Unlock()

	for _, id := range pending {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}
		s.execOne(ctx, id)
	}
}

func (s *Service) execOne(ctx context.Context, id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	// A cancel (or a concurrent sweep) may have raced the scan; re-check
	// immediately before executing.
	if !ok || j.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	j.StartedAt = time.Now()
	s.setStatusLocked(j, StatusRunning)
	snapshot := cloneJob(j)
	s.mu.Unlock()

	h := s.handler(snapshot.Kind)
	if h == nil {
		// Unknown kind is fatal for the job: no retry.
		s.mu.Lock()
		var rec *storage.JobRecord
		if j.Status == StatusRunning {
			j.Error = fmt.Sprintf("%v: %s", ErrFatalJobKind, snapshot.Kind)
			j.DoneAt = time.Now()
			rec = s.setStatusLocked(j, StatusFailed)
		}
		s.mu.Unlock()
		s.archive(rec)
		return
	}

	err := s.runHandler(ctx, h, snapshot)

	var rec *storage.JobRecord
	s.mu.Lock()
	if _, ok := s.jobs[id]; !ok {
		// Swept while running; nothing left to record.
		s.mu.Unlock()
		return
	}
	switch {
	// Policy: an in-flight execution always completes normally. A Cancel
	// issued mid-run is superseded by the handler's own outcome.
	case err == nil:
		j.Error = ""
		j.DoneAt = time.Now()
		rec = s.setStatusLocked(j, StatusCompleted)
	case j.Status == StatusCancelled:
		// Cancelled mid-run and the attempt failed anyway; the cancel
		// stands and there is no retry.
		j.Error = err.Error()
	case j.RetryCount < j.MaxRetries:
		j.Error = err.Error()
		j.RetryCount++
		s.setStatusLocked(j, StatusPending)
	default:
		j.Error = err.Error()
		j.DoneAt = time.Now()
		rec = s.setStatusLocked(j, StatusFailed)
	}
	s.mu.Unlock()

	s.archive(rec)
}

// runHandler isolates handler panics so a misbehaving handler counts as a
// failed attempt instead of taking down the worker.
func (s *Service) runHandler(ctx context.Context, h Handler, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			s.log.Error("panic in job handler",
				logx.String("job", j.ID),
				logx.String("kind", j.Kind),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	return h(ctx, j)
}
