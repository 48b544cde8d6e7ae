package hub

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"backbone/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		conns: map[string]Conn{},
		log:   log,
	}
	s.applyLimiterLocked()
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.applyLimiterLocked()
	s.mu.Unlock()
}

// caller holds s.mu (or has exclusive access during New).
func (s *Service) applyLimiterLocked() {
	if s.cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
	} else {
		s.limiter = nil
	}
}

// Register adds a live connection to the broadcast set. Re-registering the
// same id replaces the previous handle.
func (s *Service) Register(c Conn) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.conns[c.ID()] = c
	n := len(s.conns)
	s.mu.Unlock()
	s.log.Info("subscriber connected", logx.String("conn", c.ID()), logx.Int("connections", n))
}

// Unregister removes a connection. Removing a non-member is a no-op.
func (s *Service) Unregister(c Conn) {
	if c == nil {
		return
	}
	s.mu.Lock()
	_, ok := s.conns[c.ID()]
	if ok {
		delete(s.conns, c.ID())
	}
	n := len(s.conns)
	s.mu.Unlock()
	if ok {
		s.log.Info("subscriber disconnected", logx.String("conn", c.ID()), logx.Int("connections", n))
	}
}

// Broadcast sends message to every currently-registered connection. The
// connection set is snapshotted first, so registrations racing the broadcast
// neither receive a partial message nor block it. A connection whose send
// fails is dropped and closed; the remaining peers still receive the
// message.
//
// It returns the number of successful and failed deliveries.
func (s *Service) Broadcast(ctx context.Context, message string) (sent, failed int) {
	s.mu.Lock()
	targets := make([]Conn, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	lim := s.limiter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	frame := Frame{Type: FrameBroadcast, Message: message, Timestamp: time.Now()}

	for _, c := range targets {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				failed++
				continue
			}
		}
		if err := s.send(ctx, c, frame, timeout); err != nil {
			failed++
			s.dropDead(c, err)
			continue
		}
		sent++
	}

	if failed > 0 {
		s.log.Warn("broadcast finished with failures", logx.Int("sent", sent), logx.Int("failed", failed))
	} else {
		s.log.Debug("broadcast finished", logx.Int("sent", sent))
	}
	return sent, failed
}

func (s *Service) send(ctx context.Context, c Conn, f Frame, timeout time.Duration) error {
	sendCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	err := c.Send(sendCtx, f)
	if cancel != nil {
		cancel()
	}
	return err
}

// dropDead removes a connection whose send failed and closes the handle so
// the transport can release it.
func (s *Service) dropDead(c Conn, err error) {
	s.log.Warn("subscriber send failed; dropping", logx.String("conn", c.ID()), logx.Err(err))
	s.Unregister(c)
	_ = c.Close()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Connections: len(s.conns), RatePerSec: s.cfg.RatePerSec}
}
