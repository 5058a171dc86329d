package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/meetupbot/core/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMemoryStore(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: abc
store:
  backend: Memory
  seed_file: seed.yaml
payment:
  shop_id: "42"
  secret_key: live_x
  currency: rub
donation:
  min: 10
  max: 15000
  amounts: [100, 300, 500]
http:
  listen: ":8080"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store.Backend)
	require.Equal(t, "seed.yaml", cfg.Store.SeedFile)
	require.Equal(t, coreconfig.RunModeLongpoll, cfg.Telegram.RunMode)
	require.True(t, cfg.Payment.Enabled())
	require.Equal(t, "RUB", cfg.Payment.Currency)
	require.Equal(t, []int64{100, 300, 500}, cfg.Donation.Amounts)
	require.Equal(t, ":8080", cfg.HTTP.Listen)
	require.Same(t, &cfg.Config, cfg.CoreConfig())
}

func TestLoadPostgresRequiresDatabase(t *testing.T) {
	path := writeConfig(t, "telegram:\n  token: abc\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "database.host")
}

func TestLoadPostgresDefaultsPort(t *testing.T) {
	path := writeConfig(t, "telegram:\n  token: abc\ndatabase:\n  host: db\n  name: meetup\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StorePostgres, cfg.Store.Backend)
	require.Equal(t, "5432", cfg.Database.Port)
	require.False(t, cfg.Payment.Enabled())
}

func TestLoadRejectsInvertedDonationBounds(t *testing.T) {
	path := writeConfig(t, "telegram:\n  token: abc\nstore:\n  backend: memory\ndonation:\n  min: 500\n  max: 100\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("HTTP_LISTEN", ":9090")
	path := writeConfig(t, "telegram:\n  token: abc\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store.Backend)
	require.Equal(t, ":9090", cfg.HTTP.Listen)
}
