package session

import (
	"context"
	"log/slog"
	"time"
)

// startKeepalive reads the keepalive characteristic every
// KeepaliveInterval while gen is live. Failures are swallowed; the task
// ends on link loss, a newer generation or Close.
func (m *Manager) startKeepalive(gen uint64) {
	Submit(m.runner, "keepalive", func(ctx context.Context) (struct{}, error) {
		ticker := time.NewTicker(m.opts.KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return struct{}{}, nil
			case <-ticker.C:
			}
			err := m.onLoop(ctx, func() error {
				if err := m.liveErr(gen); err != nil {
					return err
				}
				if m.opts.KeepaliveUUID == "" || !m.has(m.opts.KeepaliveUUID) {
					return nil
				}
				if _, err := m.conn.Read(ctx, m.opts.KeepaliveUUID); err != nil {
					slog.Debug("[SESSION] keepalive read failed", "uuid", m.opts.KeepaliveUUID, "error", err)
				}
				return nil
			})
			if err != nil {
				slog.Debug("[SESSION] keepalive stopped", "generation", gen, "reason", err)
				return struct{}{}, nil
			}
		}
	})
}
