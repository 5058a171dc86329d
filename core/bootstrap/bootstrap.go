package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/meetupbot/core/config"
	coredatabase "github.com/m3rciful/meetupbot/core/database"
	"github.com/m3rciful/meetupbot/core/logger"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

// Options control the generic bootstrap pipeline shared between bots.
type Options struct {
	Config *coreconfig.Config
	// Database is nil for bots that keep their records elsewhere.
	Database *coredatabase.Config

	LoggerInit   func(*coreconfig.Config) error
	Connect      func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate      func(context.Context, coredatabase.Config, coredatabase.Direction) error
	OpenSessions func(context.Context, *coreconfig.Config) (state.Store, io.Closer, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB       *sqlx.DB
	Sessions state.Store

	closers []io.Closer
}

// Close releases the session store and the database pool.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Run initializes the logger, connects to the database, applies migrations
// and opens the session store.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{}
	if opts.Database != nil {
		connect := opts.Connect
		if connect == nil {
			connect = coredatabase.Connect
		}
		db, err := connect(ctx, *opts.Database)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}
		res.DB = db
		res.closers = append(res.closers, db)

		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(ctx, *opts.Database, coredatabase.Up); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
	}

	open := opts.OpenSessions
	if open == nil {
		open = state.Open
	}
	sessions, closer, err := open(ctx, opts.Config)
	if err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("bootstrap: session store failed: %w", err)
	}
	res.Sessions = sessions
	res.closers = append(res.closers, closer)
	return res, nil
}
