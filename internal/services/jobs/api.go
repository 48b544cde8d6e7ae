package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"backbone/pkg/logx"
)

// Submit records a new job and returns its id immediately. The job starts
// in the pending state and is picked up by the worker loop.
//
// maxRetries bounds how many failed attempts return the job to pending; a
// negative value selects the configured default.
func (s *Service) Submit(kind string, payload []byte, maxRetries int) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "", fmt.Errorf("%w: empty kind", ErrValidation)
	}

	s.mu.Lock()
	if maxRetries < 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}
	j := &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    append([]byte(nil), payload...),
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.mu.Unlock()

	s.log.Info("job submitted", logx.String("job", j.ID), logx.String("kind", kind), logx.Int("max_retries", maxRetries))
	if s.bus != nil {
		s.bus.Publish(busEventSubmitted(j))
	}

	s.wakeWorker()
	return j.ID, nil
}

// Get returns a snapshot of the job, or ErrNotFound.
func (s *Service) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(j), nil
}

// List returns jobs in insertion order, starting at offset, at most limit
// entries. limit <= 0 means no bound.
func (s *Service) List(offset, limit int) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) {
		return nil
	}
	end := len(s.order)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]Job, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, cloneJob(s.jobs[id]))
	}
	return out
}

// Cancel moves a pending or running job to cancelled. Terminal jobs and
// unknown ids are left untouched (no-op).
//
// Cancellation is cooperative: a job whose handler is already executing
// runs to completion and keeps its own terminal result.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	j.DoneAt = time.Now()
	rec := s.setStatusLocked(j, StatusCancelled)
	s.mu.Unlock()

	s.archive(rec)
}

// Sweep evicts terminal jobs whose completion is older than the configured
// retention. It returns the number of evicted jobs. Eviction only ever
// happens here, never implicitly.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.cfg.Retention)
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status.Terminal() && !j.DoneAt.IsZero() && j.DoneAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	if removed > 0 {
		s.log.Info("job retention sweep", logx.Int("evicted", removed), logx.Int("remaining", len(s.order)))
	}
	return removed
}

func cloneJob(j *Job) Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	return cp
}
