package hub

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"backbone/pkg/logx"
)

// Frame is the message shape spoken with subscribers.
//
// Inbound frames carry type and message; outbound "pong" and "broadcast"
// frames additionally carry the emission timestamp.
type Frame struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Recognized frame types.
const (
	FramePing      = "ping"
	FramePong      = "pong"
	FrameBroadcast = "broadcast"
	FrameSubscribe = "subscribe"
)

// Conn is a live subscriber connection. The transport layer owns the wire;
// the hub only needs identity, delivery and teardown.
//
// Send may block on peer I/O and must honor ctx. A Send error is treated as
// a dead peer: the hub drops and closes the connection.
type Conn interface {
	ID() string
	Send(ctx context.Context, f Frame) error
	Close() error
}

// Config controls the hub.
type Config struct {
	// RatePerSec paces outbound sends across a broadcast (0 = unpaced).
	RatePerSec int

	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	return c
}

// Service fans out messages to all registered connections.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	conns   map[string]Conn
	limiter *rate.Limiter

	log logx.Logger
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Connections int
	RatePerSec  int
}
