package hub

import (
	"context"
	"time"

	"backbone/pkg/logx"
)

// Dispatch interprets one inbound frame from a registered connection.
//
//	ping      -> reply pong to the sender only
//	broadcast -> fan the payload out to every registered connection
//	subscribe -> no-op; registration already implies delivery
//
// Unrecognized types are ignored (logged at debug).
func (s *Service) Dispatch(ctx context.Context, c Conn, f Frame) {
	if c == nil {
		return
	}
	switch f.Type {
	case FramePing:
		s.mu.Lock()
		timeout := s.cfg.SendTimeout
		s.mu.Unlock()
		pong := Frame{Type: FramePong, Timestamp: time.Now()}
		if err := s.send(ctx, c, pong, timeout); err != nil {
			s.dropDead(c, err)
		}
	case FrameBroadcast:
		s.Broadcast(ctx, f.Message)
	case FrameSubscribe:
		s.log.Debug("subscribe frame", logx.String("conn", c.ID()))
	default:
		s.log.Debug("unrecognized frame type", logx.String("conn", c.ID()), logx.String("type", f.Type))
	}
}
