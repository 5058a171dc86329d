package state

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	coreconfig "github.com/m3rciful/meetupbot/core/config"
	"github.com/m3rciful/meetupbot/core/logger"
)

// Open builds the Store selected by cfg.Session.Backend. The returned closer is
// a no-op for the memory backend.
func Open(ctx context.Context, cfg *coreconfig.Config) (Store, io.Closer, error) {
	ttl := cfg.SessionTTL()
	switch cfg.Session.Backend {
	case coreconfig.SessionBackendRedis:
		rc := cfg.Session.Redis
		st := NewRedisStore(RedisOptions{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			Namespace: rc.Namespace,
			TTL:       ttl,
		}).(*redisStore)
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("session redis ping: %w", err)
		}
		logger.LogEvent(ctx, logger.TWire, slog.LevelInfo, "session.store",
			slog.String("backend", coreconfig.SessionBackendRedis),
			slog.String("addr", rc.Addr),
			slog.Duration("ttl", ttl),
		)
		return st, st, nil
	default:
		logger.LogEvent(ctx, logger.TWire, slog.LevelInfo, "session.store",
			slog.String("backend", coreconfig.SessionBackendMemory),
			slog.Duration("ttl", ttl),
		)
		return NewMemoryStore(ttl), nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
