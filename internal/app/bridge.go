package app

import (
	"context"
	"encoding/json"

	"backbone/internal/eventbus"
	"backbone/pkg/logx"
)

// startBridge forwards terminal job events from the bus to the hub, so
// realtime subscribers learn about finished work without polling.
func (a *App) startBridge(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	blog := a.log.With(logx.String("comp", "bridge"))

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch e.Type {
				case eventbus.EventJobCompleted, eventbus.EventJobFailed, eventbus.EventJobCancelled:
					b, err := json.Marshal(struct {
						Event string `json:"event"`
						Job   any    `json:"job"`
					}{Event: e.Type, Job: e.Data})
					if err != nil {
						blog.Warn("event marshal failed", logx.String("type", e.Type), logx.Err(err))
						continue
					}
					a.hub.Broadcast(ctx, string(b))
				}
			}
		}
	}()
}
