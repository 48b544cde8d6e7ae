package jobs

import (
	"context"
	"strings"
	"time"

	"backbone/internal/eventbus"
	"backbone/internal/storage"
	"backbone/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		jobs:     map[string]*Job{},
		handlers: map[string]Handler{},
		log:      log,
		bus:      bus,
		store:    store,
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a handler to a job kind. Later registrations win, so a
// handler can be replaced at runtime.
func (s *Service) Register(kind string, h Handler) {
	kind = strings.TrimSpace(kind)
	if kind == "" || h == nil {
		return
	}
	s.rmu.Lock()
	s.handlers[kind] = h
	s.rmu.Unlock()
	s.log.Debug("job handler registered", logx.String("kind", kind))
}

func (s *Service) handler(kind string) Handler {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	return s.handlers[kind]
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	// The worker re-reads the scan interval on every tick, so no restart
	// is needed here.
	s.wakeWorker()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.Duration("scan_interval", cur.ScanInterval))

	// If a Stop() is in progress, wait for it to complete (prevents double workers).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	runCtx := s.runCtx
	stopCh := s.stopCh

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.log.Debug("worker started")
		s.worker(runCtx, stopCh)
		s.log.Debug("worker stopped")
	}()

	s.log.Info("service started", logx.Duration("scan_interval", cur.ScanInterval), logx.Duration("retention", cur.Retention))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Total: len(s.order)}
	for _, id := range s.order {
		switch s.jobs[id].Status {
		case StatusPending:
			snap.Pending++
		case StatusRunning:
			snap.Running++
		case StatusCompleted:
			snap.Completed++
		case StatusFailed:
			snap.Failed++
		case StatusCancelled:
			snap.Cancelled++
		}
	}
	return snap
}

// wakeWorker nudges the worker loop without waiting for the next tick.
func (s *Service) wakeWorker() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// setStatusLocked applies a transition, logs it and publishes it on the bus.
// Caller holds s.mu. Terminal transitions return the record to archive; the
// caller persists it AFTER releasing s.mu, so store latency never stalls
// Submit/Get/List/Cancel.
func (s *Service) setStatusLocked(j *Job, to Status) *storage.JobRecord {
	from := j.Status
	j.Status = to
	s.log.Info("job status changed",
		logx.String("job", j.ID),
		logx.String("kind", j.Kind),
		logx.String("from", from.String()),
		logx.String("to", to.String()),
		logx.Int("retry_count", j.RetryCount),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventTypeFor(from, to),
			Time: time.Now(),
			Data: Event{ID: j.ID, Kind: j.Kind, From: from.String(), To: to.String(), RetryCount: j.RetryCount, Error: j.Error},
		})
	}
	if to.Terminal() {
		rec := storage.JobRecord{
			ID:         j.ID,
			Kind:       j.Kind,
			Status:     j.Status.String(),
			RetryCount: j.RetryCount,
			Error:      j.Error,
			CreatedAt:  j.CreatedAt,
			DoneAt:     j.DoneAt,
		}
		return &rec
	}
	return nil
}

func eventTypeFor(from, to Status) string {
	switch to {
	case StatusRunning:
		return eventbus.EventJobStarted
	case StatusCompleted:
		return eventbus.EventJobCompleted
	case StatusFailed:
		return eventbus.EventJobFailed
	case StatusCancelled:
		return eventbus.EventJobCancelled
	case StatusPending:
		if from == StatusRunning {
			return eventbus.EventJobRetried
		}
		return eventbus.EventJobSubmitted
	default:
		return eventbus.EventJobSubmitted
	}
}

func busEventSubmitted(j *Job) eventbus.Event {
	return eventbus.Event{
		Type: eventbus.EventJobSubmitted,
		Time: time.Now(),
		Data: Event{ID: j.ID, Kind: j.Kind, To: StatusPending.String()},
	}
}

// archive persists a terminal job record. Called without s.mu held.
// Best-effort: persistence failures are logged, never surfaced to callers.
func (s *Service) archive(rec *storage.JobRecord) {
	if rec == nil || s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.AppendJob(ctx, *rec); err != nil {
		s.log.Warn("job archive failed", logx.String("job", rec.ID), logx.Err(err))
	}
}
