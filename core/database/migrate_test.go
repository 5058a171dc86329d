package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectBetween(t *testing.T) {
	files := []string{"0001_init.up.sql", "0002_events_notify.up.sql", "0003_more.up.sql"}
	require.Equal(t, []string{"0002_events_notify.up.sql", "0003_more.up.sql"}, selectBetween(files, 1, 3))
	require.Equal(t, []string{"0002_events_notify.up.sql", "0003_more.up.sql"}, selectBetween(files, 3, 1))
	require.Empty(t, selectBetween(files, 3, 3))
}

func TestListMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}
	require.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, listMigrationFiles(dir))
}

func TestConfigURLAndDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "bot", Password: "p@ss", Name: "meetup"}
	require.Equal(t, "postgres://bot:p%40ss@db:5432/meetup?sslmode=disable", cfg.URL())
	require.Contains(t, cfg.DSN(), "sslmode=disable")

	path, err := MigrationsPath(Config{MigrationsDir: "/srv/migrations"})
	require.NoError(t, err)
	require.Equal(t, "/srv/migrations", path)
}
