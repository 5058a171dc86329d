// Package bootstrap wires the meetup bot: record store, payment provider,
// notifier, conversation flows and the Telegram runtime.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/meetupbot/app/config"
	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/app/flows"
	"github.com/m3rciful/meetupbot/app/notify"
	"github.com/m3rciful/meetupbot/app/payment"
	"github.com/m3rciful/meetupbot/app/server"
	"github.com/m3rciful/meetupbot/app/store"
	"github.com/m3rciful/meetupbot/app/store/memory"
	"github.com/m3rciful/meetupbot/app/store/postgres"
	corebootstrap "github.com/m3rciful/meetupbot/core/bootstrap"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/logger"
	coretelegram "github.com/m3rciful/meetupbot/core/telegram"
	tghelpers "github.com/m3rciful/meetupbot/core/telegram/helpers"
	"github.com/m3rciful/meetupbot/core/telegram/router"
)

const msgRateLimited = "⏳ Too many requests, please slow down."

// gatewayStore is what the app needs from a record store beyond domain.Gateway.
type gatewayStore interface {
	store.Seedable
	server.DonationConfirmer
}

// App holds the wired components for one bot process.
type App struct {
	cfg   *config.Config
	infra *corebootstrap.Result

	gateway  gatewayStore
	memStore *memory.Store
	pgStore  *postgres.Store

	messenger  *coretelegram.Messenger
	notifier   *notify.Notifier
	payments   payment.Provider
	dispatcher *conversation.Dispatcher
	commands   *coretelegram.Registry
	http       *server.Server

	stopWatch context.CancelFunc
	watchWG   sync.WaitGroup
}

// New bootstraps infrastructure and builds the conversation registry.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config")
	}
	opts := corebootstrap.Options{Config: cfg.CoreConfig()}
	if cfg.Store.Backend == config.StorePostgres {
		opts.Database = &cfg.Database
	}
	infra, err := corebootstrap.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, infra: infra}
	if err := a.wire(ctx); err != nil {
		_ = infra.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Store.Backend {
	case config.StorePostgres:
		a.pgStore = postgres.New(a.infra.DB)
		a.gateway = a.pgStore
	default:
		a.memStore = memory.New()
		a.gateway = a.memStore
		if err := a.Seed(ctx, cfg.Store.SeedFile); err != nil {
			return err
		}
	}

	a.messenger = coretelegram.NewMessenger(time.Duration(cfg.Notify.TimeoutSeconds) * time.Second)
	a.notifier = notify.New(a.gateway, a.messenger, notify.Options{
		Workers: cfg.Notify.Workers,
		Timeout: time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
	})
	a.payments = newPaymentProvider(ctx, cfg.Payment)

	reg, err := flows.Build(flows.Deps{
		Gateway:     a.gateway,
		Payments:    a.payments,
		Messenger:   a.messenger,
		Broadcaster: a.notifier,
		Options: flows.Options{
			DonationMin: cfg.Donation.Min,
			DonationMax: cfg.Donation.Max,
			Amounts:     cfg.Donation.Amounts,
			Currency:    cfg.Payment.Currency,
			ReturnURL:   cfg.Payment.ReturnURL,
		},
	})
	if err != nil {
		return fmt.Errorf("bootstrap: flows: %w", err)
	}
	a.dispatcher = conversation.NewDispatcher(reg, a.infra.Sessions, conversation.DispatcherOptions{
		DedupWindow: cfg.DedupWindow(),
	})

	a.commands = coretelegram.NewRegistry()
	names := make([]string, 0, len(flows.Commands))
	for name := range flows.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.commands.RegisterCommand(name, coretelegram.Command{Description: flows.Commands[name]})
	}
	if orphans := a.commands.Reconcile(reg); len(orphans) > 0 {
		return fmt.Errorf("bootstrap: menu commands without handlers: %s", strings.Join(orphans, ", "))
	}

	if strings.TrimSpace(cfg.HTTP.Listen) != "" {
		a.http = server.New(server.Options{
			Listen:    cfg.HTTP.Listen,
			Payments:  a.payments,
			Donations: a.gateway,
		})
	}
	return nil
}

// Seed loads the seed file at path into the record store. An empty path is a no-op.
func (a *App) Seed(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	seed, err := store.LoadSeed(path)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return corebootstrap.RunSeeders[store.Seedable](ctx, a.gateway, corebootstrap.SeederFunc[store.Seedable](seed.Apply))
}

func newPaymentProvider(ctx context.Context, cfg config.PaymentConfig) payment.Provider {
	if !cfg.Enabled() {
		logger.LogEvent(ctx, logger.Pay, slog.LevelWarn, "payment.disabled",
			slog.String("reason", "missing shop_id or secret_key"),
		)
		return payment.Unavailable{}
	}
	return payment.NewYooKassa(payment.YooKassaOptions{
		ShopID:    cfg.ShopID,
		SecretKey: cfg.SecretKey,
		APIURL:    cfg.APIURL,
		Timeout:   cfg.Timeout(),
	})
}

// Gateway exposes the record store, for CLI commands.
func (a *App) Gateway() domain.Gateway { return a.gateway }

// Persistent reports whether records outlive the process.
func (a *App) Persistent() bool { return a.pgStore != nil }

// Dispatcher exposes the conversation dispatcher.
func (a *App) Dispatcher() *conversation.Dispatcher { return a.dispatcher }

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.CoreConfig()
	onLimited := func(c tele.Context) error {
		return tghelpers.SendText(c, msgRateLimited)
	}
	return coretelegram.RunOptions{
		Config:      core,
		Registry:    a.commands,
		Messenger:   a.messenger,
		Middlewares: coretelegram.DefaultMiddlewares(core, onLimited),
		Routes:      router.ConversationRoutes(a.dispatcher),
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, _ coretelegram.Runtime) error {
	if a.http != nil {
		if err := a.http.Start(ctx); err != nil {
			return err
		}
	}
	a.startAnnouncements(ctx)
	return nil
}

// startAnnouncements tells subscribers about newly created active events.
func (a *App) startAnnouncements(ctx context.Context) {
	if a.memStore != nil {
		a.memStore.OnEventCreated(a.notifier.AnnounceEvent)
		return
	}
	if a.pgStore == nil {
		return
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopWatch = cancel
	a.watchWG.Add(1)
	go func() {
		defer a.watchWG.Done()
		err := a.pgStore.Watch(watchCtx, a.cfg.Database, a.notifier.AnnounceEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.LogEvent(watchCtx, logger.DB, slog.LevelError, "events.watch",
				slog.String("err", err.Error()),
			)
		}
	}()
}

func (a *App) onStop(ctx context.Context, _ coretelegram.Runtime) error {
	if a.stopWatch != nil {
		a.stopWatch()
		a.watchWG.Wait()
	}
	if a.http != nil {
		return a.http.Shutdown(ctx)
	}
	return nil
}

// Close releases the database pool and session store.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	return a.infra.Close()
}

var _ io.Closer = (*App)(nil)
