package ratelimit

import (
	"errors"
	"sync"
	"time"

	"backbone/pkg/logx"
)

// ErrRateLimited is returned by Check when a key has used up its window.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config controls the sliding-window limiter.
type Config struct {
	// Capacity is the maximum number of admitted requests per key within
	// any trailing interval of Window length.
	Capacity int
	Window   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 100
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// window is the per-key sliding log of admitted request instants.
// Entries are kept in arrival order; pruning drops from the front.
type window struct {
	instants []time.Time
}

// Service is a strict sliding-log rate limiter. Unlike a token bucket it
// never admits more than Capacity requests in ANY trailing Window-length
// interval, at the cost of remembering the individual instants.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	keys map[string]*window

	log logx.Logger
	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		keys: map[string]*window{},
		log:  log,
		now:  time.Now,
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Allow reports whether key may perform another operation now, and records
// the instant if admitted. Denials record nothing.
func (s *Service) Allow(key string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.keys[key]
	if w == nil {
		w = &window{}
		s.keys[key] = w
	}

	// Evict instants older than the trailing window before deciding.
	cutoff := now.Add(-s.cfg.Window)
	i := 0
	for i < len(w.instants) && !w.instants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.instants = append(w.instants[:0], w.instants[i:]...)
	}

	if len(w.instants) >= s.cfg.Capacity {
		s.log.Debug("rate limit denied", logx.String("key", key), logx.Int("in_window", len(w.instants)))
		return false
	}
	w.instants = append(w.instants, now)
	return true
}

// Check is the error-typed form of Allow for callers that propagate faults.
func (s *Service) Check(key string) error {
	if s.Allow(key) {
		return nil
	}
	return ErrRateLimited
}

// Sweep reclaims keys that have been idle past the window. It returns the
// number of reclaimed keys.
func (s *Service) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.cfg.Window)
	removed := 0
	for key, w := range s.keys {
		if len(w.instants) == 0 || !w.instants[len(w.instants)-1].After(cutoff) {
			delete(s.keys, key)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("rate limit sweep", logx.Int("evicted", removed), logx.Int("remaining", len(s.keys)))
	}
	return removed
}

// TrackedKeys reports how many keys currently hold a window. Diagnostics only.
func (s *Service) TrackedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
