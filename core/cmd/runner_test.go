package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	coreconfig "github.com/m3rciful/meetupbot/core/config"
	coretelegram "github.com/m3rciful/meetupbot/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type app struct {
	closed bool
}

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{Config: &coreconfig.Config{}}, nil
}

func (a *app) Close() error {
	a.closed = true
	return nil
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	t.Setenv("BOT_CONFIG", "env.yaml")
	got, err := ResolveConfigPath("flag.yaml", "BOT_CONFIG", "default.yaml")
	if err != nil || got != "flag.yaml" {
		t.Fatalf("got %q, %v", got, err)
	}
	got, _ = ResolveConfigPath("", "BOT_CONFIG", "default.yaml")
	if got != "env.yaml" {
		t.Fatalf("got %q, want env.yaml", got)
	}
	t.Setenv("BOT_CONFIG", "")
	got, _ = ResolveConfigPath("", "BOT_CONFIG", "default.yaml")
	if got != "default.yaml" {
		t.Fatalf("got %q, want default.yaml", got)
	}
	if _, err := ResolveConfigPath("", "BOT_CONFIG", ""); err == nil {
		t.Fatal("expected error without any path")
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("MEETUPBOT_DOTENV_PROBE=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETUPBOT_DOTENV_PROBE", "")
	os.Unsetenv("MEETUPBOT_DOTENV_PROBE")
	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("MEETUPBOT_DOTENV_PROBE") != "1" {
		t.Fatal("variable from dotenv file not loaded")
	}
}

func TestRunWrapsLifecycleAndClosesApp(t *testing.T) {
	a := &app{}
	var started, stopped bool
	err := Run(context.Background(), Options{
		ConfigPath: "any.yaml",
		LoadConfig: func(string) (ConfigCarrier, error) {
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(context.Context, ConfigCarrier) (TelegramApp, error) {
			return a, nil
		},
		ShutdownLogger: func() error { return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			started = opts.OnStart(ctx, coretelegram.Runtime{}) == nil
			stopped = opts.OnStop(ctx, coretelegram.Runtime{}) == nil
			return nil
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !started || !stopped || !a.closed {
		t.Fatalf("started=%v stopped=%v closed=%v", started, stopped, a.closed)
	}
}

func TestRunReportsBootstrapFailure(t *testing.T) {
	boom := errors.New("no db")
	err := Run(context.Background(), Options{
		ConfigPath:     "any.yaml",
		LoadConfig:     func(string) (ConfigCarrier, error) { return carrier{cfg: &coreconfig.Config{}}, nil },
		Bootstrap:      func(context.Context, ConfigCarrier) (TelegramApp, error) { return nil, boom },
		ShutdownLogger: func() error { return nil },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
