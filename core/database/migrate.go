package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/meetupbot/core/logger"
)

// Direction selects which way RunMigrations moves the schema.
type Direction string

const (
	// Up applies every pending migration.
	Up Direction = "up"
	// Down reverts every applied migration.
	Down Direction = "down"
)

// MigrationsPath resolves the configured migrations directory to an absolute path.
func MigrationsPath(cfg Config) (string, error) {
	dir := strings.TrimSpace(cfg.MigrationsDir)
	if dir == "" {
		dir = "migrations"
	}
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, dir), nil
}

// RunMigrations waits for postgres and moves the schema in the given direction.
func RunMigrations(ctx context.Context, cfg Config, dir Direction) error {
	if err := WaitForPostgres(ctx, cfg.DSN(), 30*time.Second); err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate", slog.String("err", err.Error()))
		return fmt.Errorf("database not ready: %w", err)
	}

	path, err := MigrationsPath(cfg)
	if err != nil {
		return err
	}
	files := listMigrationFiles(path)
	preview, truncated := logger.SummarizeStrings(files, 6)
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "db.migrate.resolve",
		slog.String("path", path),
		slog.Int("count", len(files)),
		slog.String("files_preview", preview),
		slog.Bool("files_truncated", truncated),
	)

	m, err := migrate.New("file://"+path, cfg.URL())
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate", slog.String("err", err.Error()))
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	fromVer, _, _ := m.Version()

	start := time.Now()
	switch dir {
	case Down:
		err = m.Down()
	default:
		dir = Up
		err = m.Up()
	}
	took := logger.Took(start)

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate.apply",
			slog.String("mode", string(dir)),
			slog.Duration("duration", took),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("migration %s failed: %w", dir, err)
	}

	toVer, _, _ := m.Version()
	changed := selectBetween(files, uint64(fromVer), uint64(toVer))
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "db.migrate.summary",
		slog.String("status", "ok"),
		slog.String("mode", string(dir)),
		slog.Uint64("from_ver", uint64(fromVer)),
		slog.Uint64("to_ver", uint64(toVer)),
		slog.Int("files", len(changed)),
		slog.Duration("duration", took),
	)
	return nil
}

func listMigrationFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func parseVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// selectBetween returns files whose version lies in (lo, hi], in either order of arguments.
func selectBetween(files []string, a, b uint64) []string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > lo && v <= hi {
			out = append(out, f)
		}
	}
	return out
}
