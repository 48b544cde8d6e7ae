package ratelimit

import (
	"errors"
	"testing"
	"time"

	"backbone/pkg/logx"
)

func newTestService(capacity int, window time.Duration) (*Service, *time.Time) {
	clock := time.Unix(1_700_000_000, 0)
	s := New(Config{Capacity: capacity, Window: window}, logx.Nop())
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestAllowUpToCapacity(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(5, time.Minute)

	for i := 0; i < 5; i++ {
		if !s.Allow("10.0.0.1") {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if s.Allow("10.0.0.1") {
		t.Fatal("request 6 allowed, want denied")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(2, time.Minute)

	s.Allow("a")
	s.Allow("a")
	if s.Allow("a") {
		t.Fatal("key a over capacity")
	}
	if !s.Allow("b") {
		t.Fatal("key b denied despite empty window")
	}
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(2, time.Minute)

	if !s.Allow("k") || !s.Allow("k") {
		t.Fatal("initial requests denied")
	}
	if s.Allow("k") {
		t.Fatal("over-capacity request allowed")
	}

	// 30s later the first two instants are still inside the window.
	*clock = clock.Add(30 * time.Second)
	if s.Allow("k") {
		t.Fatal("request allowed with window still full")
	}

	// Past the window both instants expire.
	*clock = clock.Add(31 * time.Second)
	if !s.Allow("k") {
		t.Fatal("request denied after window expired")
	}
}

func TestDenialsRecordNothing(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(1, time.Minute)

	if !s.Allow("k") {
		t.Fatal("first request denied")
	}
	// Hammer while full; none of these may extend the block.
	for i := 0; i < 10; i++ {
		*clock = clock.Add(time.Second)
		if s.Allow("k") {
			t.Fatal("request allowed while window full")
		}
	}
	// 61s after the single admitted instant the key is clear, even though
	// denied attempts happened much more recently.
	*clock = time.Unix(1_700_000_000, 0).Add(61 * time.Second)
	if !s.Allow("k") {
		t.Fatal("denied attempts extended the window")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(1, time.Minute)

	if err := s.Check("k"); err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if err := s.Check("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Check over capacity: err = %v, want ErrRateLimited", err)
	}
}

func TestSweepReclaimsIdleKeys(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(5, time.Minute)

	s.Allow("idle")
	*clock = clock.Add(30 * time.Second)
	s.Allow("active")

	if got := s.TrackedKeys(); got != 2 {
		t.Fatalf("TrackedKeys = %d, want 2", got)
	}

	// 61s after "idle" last hit, 31s after "active".
	*clock = time.Unix(1_700_000_000, 0).Add(61 * time.Second)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep reclaimed %d, want 1", n)
	}
	if got := s.TrackedKeys(); got != 1 {
		t.Fatalf("TrackedKeys after sweep = %d, want 1", got)
	}

	// The reclaimed key starts fresh.
	if !s.Allow("idle") {
		t.Fatal("reclaimed key denied")
	}
}

func TestApplyShrinksCapacity(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(10, time.Minute)

	for i := 0; i < 5; i++ {
		s.Allow("k")
	}
	s.Apply(Config{Capacity: 3, Window: time.Minute})
	if s.Allow("k") {
		t.Fatal("request allowed above shrunk capacity")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if s.cfg.Capacity != 100 || s.cfg.Window != time.Minute {
		t.Fatalf("defaults = %d/%v, want 100/1m", s.cfg.Capacity, s.cfg.Window)
	}
}
