package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/m3rciful/meetupbot/core/logger"
)

// Listen subscribes to a postgres NOTIFY channel and calls fn with each payload
// until ctx is cancelled. Reconnects are handled by pq.Listener.
func Listen(ctx context.Context, cfg Config, channel string, fn func(ctx context.Context, payload string)) error {
	report := func(ev pq.ListenerEventType, err error) {
		if err == nil {
			return
		}
		logger.LogEvent(ctx, logger.DB, slog.LevelWarn, "db.listen",
			slog.String("channel", channel),
			slog.Int("listener_event", int(ev)),
			slog.String("err", err.Error()),
		)
	}
	l := pq.NewListener(cfg.DSN(), time.Second, time.Minute, report)
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	logger.LogEvent(ctx, logger.DB, slog.LevelInfo, "db.listen",
		slog.String("status", "ok"),
		slog.String("channel", channel),
	)
	defer l.Close()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.Notify:
			// nil after a reconnect; notifications sent while disconnected are lost
			if n == nil {
				continue
			}
			fn(ctx, n.Extra)
		case <-ping.C:
			if err := l.Ping(); err != nil {
				report(pq.ListenerEventConnectionAttemptFailed, err)
			}
		}
	}
}
