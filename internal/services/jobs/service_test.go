package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"backbone/internal/eventbus"
	"backbone/internal/storage"
	"backbone/pkg/logx"
)

// slowStore stalls AppendJob to expose accidental I/O under the service lock.
type slowStore struct {
	delay   time.Duration
	started chan struct{}
	appends atomic.Int32
}

func (f *slowStore) AppendJob(ctx context.Context, r storage.JobRecord) error {
	f.appends.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.delay):
		return nil
	}
}

func (f *slowStore) ListJobs(ctx context.Context, limit int) ([]storage.JobRecord, error) {
	return nil, nil
}

func (f *slowStore) PutRevocation(ctx context.Context, tokenID string, until time.Time) error {
	return nil
}

func (f *slowStore) GetRevocation(ctx context.Context, tokenID string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *slowStore) Close() error { return nil }

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{
		Enabled:      true,
		ScanInterval: 5 * time.Millisecond,
	}, logx.Nop(), eventbus.New(), nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

// waitForStatus polls Get until the job reaches want or the deadline passes.
func waitForStatus(t *testing.T, s *Service, id string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) error: %v", id, err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(2 * time.Millisecond)
	}
	j, _ := s.Get(id)
	t.Fatalf("job %s stuck at %s, want %s", id, j.Status, want)
	return Job{}
}

func TestSubmitAndComplete(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	var got atomic.Value
	s.Register("copy", func(ctx context.Context, j Job) error {
		got.Store(string(j.Payload))
		return nil
	})

	id, err := s.Submit("copy", []byte("hello"), 0)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if id == "" {
		t.Fatal("Submit returned empty id")
	}

	j := waitForStatus(t, s, id, StatusCompleted)
	if j.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", j.RetryCount)
	}
	if j.Error != "" {
		t.Fatalf("Error = %q, want empty", j.Error)
	}
	if j.StartedAt.IsZero() || j.DoneAt.IsZero() {
		t.Fatal("StartedAt/DoneAt not stamped")
	}
	if v, _ := got.Load().(string); v != "hello" {
		t.Fatalf("handler payload = %q, want %q", v, "hello")
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	if _, err := s.Submit("  ", nil, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("Submit blank kind: err = %v, want ErrValidation", err)
	}
}

func TestRetryExhaustion(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	var attempts atomic.Int32
	s.Register("flaky", func(ctx context.Context, j Job) error {
		attempts.Add(1)
		return errors.New("boom")
	})

	id, err := s.Submit("flaky", nil, 2)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	j := waitForStatus(t, s, id, StatusFailed)
	if n := attempts.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
	if j.RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", j.RetryCount)
	}
	if j.Error == "" {
		t.Fatal("terminal failure has empty Error")
	}
}

func TestZeroRetriesFailsImmediately(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	var attempts atomic.Int32
	s.Register("once", func(ctx context.Context, j Job) error {
		attempts.Add(1)
		return errors.New("nope")
	})

	id, _ := s.Submit("once", nil, 0)
	j := waitForStatus(t, s, id, StatusFailed)
	if n := attempts.Load(); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
	if j.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", j.RetryCount)
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	var attempts atomic.Int32
	s.Register("eventually", func(ctx context.Context, j Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	id, _ := s.Submit("eventually", nil, 5)
	j := waitForStatus(t, s, id, StatusCompleted)
	if j.RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", j.RetryCount)
	}
	if j.Error != "" {
		t.Fatalf("Error = %q, want empty after success", j.Error)
	}
}

func TestUnknownKindFailsTerminally(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	id, err := s.Submit("no-such-kind", nil, 5)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	j := waitForStatus(t, s, id, StatusFailed)
	if j.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0 for unregistered kind", j.RetryCount)
	}
	if j.Error == "" {
		t.Fatal("expected error message for unregistered kind")
	}
}

func TestPanicCountsAsFailure(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	s.Register("panics", func(ctx context.Context, j Job) error {
		panic("handler bug")
	})

	id, _ := s.Submit("panics", nil, 0)
	j := waitForStatus(t, s, id, StatusFailed)
	if j.Error == "" {
		t.Fatal("panic left Error empty")
	}
}

func TestCancelPendingNeverRuns(t *testing.T) {
	t.Parallel()
	// Worker not started: submissions stay pending.
	s := New(Config{Enabled: true, ScanInterval: time.Hour}, logx.Nop(), eventbus.New(), nil)

	var ran atomic.Bool
	s.Register("slow", func(ctx context.Context, j Job) error {
		ran.Store(true)
		return nil
	})

	id, _ := s.Submit("slow", nil, 0)
	s.Cancel(id)

	j, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if j.Status != StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", j.Status)
	}
	if j.DoneAt.IsZero() {
		t.Fatal("cancelled job missing DoneAt")
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("cancelled job was executed")
	}
}

func TestCancelTerminalIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	s.Register("quick", func(ctx context.Context, j Job) error { return nil })
	id, _ := s.Submit("quick", nil, 0)
	j := waitForStatus(t, s, id, StatusCompleted)

	s.Cancel(id)
	after, _ := s.Get(id)
	if after.Status != StatusCompleted {
		t.Fatalf("Status after Cancel = %s, want completed", after.Status)
	}
	if !after.DoneAt.Equal(j.DoneAt) {
		t.Fatal("Cancel on terminal job changed DoneAt")
	}

	// Unknown ids are also a no-op.
	s.Cancel("no-such-id")
}

func TestCompletionWinsOverCancel(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	started := make(chan struct{})
	release := make(chan struct{})
	s.Register("held", func(ctx context.Context, j Job) error {
		close(started)
		<-release
		return nil
	})

	id, _ := s.Submit("held", nil, 0)
	<-started
	s.Cancel(id)
	close(release)

	j := waitForStatus(t, s, id, StatusCompleted)
	if j.Status != StatusCompleted {
		t.Fatalf("Status = %s, want completed", j.Status)
	}
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestListOrderAndPaging(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, ScanInterval: time.Hour}, logx.Nop(), eventbus.New(), nil)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Submit("k", []byte{byte(i)}, 0)
		if err != nil {
			t.Fatalf("Submit error: %v", err)
		}
		ids = append(ids, id)
	}

	all := s.List(0, 10)
	if len(all) != 5 {
		t.Fatalf("List(0,10) returned %d jobs, want 5", len(all))
	}
	for i, j := range all {
		if j.ID != ids[i] {
			t.Fatalf("List order: got %s at %d, want %s", j.ID, i, ids[i])
		}
	}

	page := s.List(3, 10)
	if len(page) != 2 || page[0].ID != ids[3] {
		t.Fatalf("List(3,10) = %d jobs starting %s, want 2 starting %s", len(page), page[0].ID, ids[3])
	}
	if got := s.List(10, 5); len(got) != 0 {
		t.Fatalf("List past end returned %d jobs", len(got))
	}
}

func TestSweepEvictsTerminalOnly(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, ScanInterval: time.Hour, Retention: 10 * time.Millisecond}, logx.Nop(), eventbus.New(), nil)

	kept, _ := s.Submit("k", nil, 0)
	gone, _ := s.Submit("k", nil, 0)
	s.Cancel(gone)

	time.Sleep(25 * time.Millisecond)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if _, err := s.Get(gone); !errors.Is(err, ErrNotFound) {
		t.Fatalf("swept job still present: err = %v", err)
	}
	if _, err := s.Get(kept); err != nil {
		t.Fatalf("pending job was swept: %v", err)
	}
	if got := s.List(0, 10); len(got) != 1 || got[0].ID != kept {
		t.Fatalf("List after sweep = %d jobs", len(got))
	}
}

func TestSnapshotCounts(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	s.Register("ok", func(ctx context.Context, j Job) error { return nil })
	id, _ := s.Submit("ok", nil, 0)
	waitForStatus(t, s, id, StatusCompleted)

	snap := s.Snapshot()
	if !snap.Enabled {
		t.Fatal("Snapshot Enabled = false")
	}
	if snap.Total != 1 || snap.Completed != 1 {
		t.Fatalf("Snapshot = %+v, want Total=1 Completed=1", snap)
	}
}

func TestArchiveDoesNotBlockAccess(t *testing.T) {
	t.Parallel()
	store := &slowStore{delay: 500 * time.Millisecond, started: make(chan struct{}, 1)}
	s := New(Config{Enabled: true, ScanInterval: 5 * time.Millisecond}, logx.Nop(), eventbus.New(), store)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Register("quick", func(ctx context.Context, j Job) error { return nil })
	id, err := s.Submit("quick", nil, 0)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	select {
	case <-store.started:
	case <-time.After(3 * time.Second):
		t.Fatal("archive write never started")
	}

	// The archive write is still sleeping; the request path must not be.
	begin := time.Now()
	if _, err := s.Get(id); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	s.List(0, 10)
	if _, err := s.Submit("quick", nil, 0); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Fatalf("request path blocked %v during archive write", elapsed)
	}
}

func TestCancelArchivesOutsideLock(t *testing.T) {
	t.Parallel()
	store := &slowStore{delay: 300 * time.Millisecond, started: make(chan struct{}, 1)}
	s := New(Config{Enabled: true, ScanInterval: time.Hour}, logx.Nop(), eventbus.New(), store)

	id, _ := s.Submit("k", nil, 0)
	done := make(chan struct{})
	go func() {
		s.Cancel(id)
		close(done)
	}()

	select {
	case <-store.started:
	case <-time.After(3 * time.Second):
		t.Fatal("cancel never reached the store")
	}

	// Cancel's own archive write is in flight; reads stay responsive.
	begin := time.Now()
	j, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if j.Status != StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", j.Status)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Fatalf("Get blocked %v during cancel archive", elapsed)
	}

	<-done
	if store.appends.Load() != 1 {
		t.Fatalf("appends = %d, want 1", store.appends.Load())
	}
}

func TestStatusTransitionEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	s := New(Config{Enabled: true, ScanInterval: 5 * time.Millisecond}, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Register("ok", func(ctx context.Context, j Job) error { return nil })
	id, _ := s.Submit("ok", nil, 0)
	waitForStatus(t, s, id, StatusCompleted)

	want := []string{eventbus.EventJobSubmitted, eventbus.EventJobStarted, eventbus.EventJobCompleted}
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case e := <-events:
			got = append(got, e.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
