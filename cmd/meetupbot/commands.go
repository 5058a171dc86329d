package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/m3rciful/meetupbot/app/bootstrap"
	"github.com/m3rciful/meetupbot/app/config"
	"github.com/m3rciful/meetupbot/app/domain"
	corecmd "github.com/m3rciful/meetupbot/core/cmd"
	coredatabase "github.com/m3rciful/meetupbot/core/database"
	"github.com/m3rciful/meetupbot/core/logger"
)

func (c *cli) options() corecmd.Options {
	return corecmd.Options{
		ConfigPath:        *c.configPath,
		DefaultConfigPath: defaultConfigPath,
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: func(ctx context.Context, cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			return bootstrap.New(ctx, cfg.(*config.Config))
		},
	}
}

func (c *cli) run(cmd *cobra.Command, _ []string) error {
	return corecmd.Run(cmd.Context(), c.options())
}

func (c *cli) loadConfig() (*config.Config, error) {
	carrier, err := corecmd.LoadConfig(c.options())
	if err != nil {
		return nil, err
	}
	return carrier.(*config.Config), nil
}

// withApp bootstraps the app for a one-shot command.
func (c *cli) withApp(ctx context.Context, fn func(*bootstrap.App) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Shutdown() }()
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	if !app.Persistent() {
		return errors.New("this command needs store.backend 'postgres'; the memory store lives only inside the bot process")
	}
	return fn(app)
}

func (c *cli) migrateCmd() *cobra.Command {
	migrate := func(dir coredatabase.Direction) *cobra.Command {
		return &cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Migrate the schema %s", dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
					return err
				}
				defer func() { _ = logger.Shutdown() }()
				return coredatabase.RunMigrations(cmd.Context(), cfg.Database, dir)
			},
		}
	}
	root := &cobra.Command{Use: "migrate", Short: "Apply or revert database migrations"}
	root.AddCommand(migrate(coredatabase.Up), migrate(coredatabase.Down))
	return root
}

func (c *cli) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load events, speakers and managers from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(app *bootstrap.App) error {
				return app.Seed(cmd.Context(), file)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

func (c *cli) eventCmd() *cobra.Command {
	var (
		title, description, date string
		inactive                 bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an event; active events are announced to subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev := domain.Event{Title: title, Description: description, IsActive: !inactive}
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				ev.Date = d
			}
			return c.withApp(cmd.Context(), func(app *bootstrap.App) error {
				created, err := app.Gateway().CreateEvent(cmd.Context(), ev)
				if err != nil {
					return err
				}
				cmd.Printf("event %d created: %s\n", created.ID, created.Title)
				return nil
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "event title")
	add.Flags().StringVar(&description, "description", "", "event description")
	add.Flags().StringVar(&date, "date", "", "event date, YYYY-MM-DD")
	add.Flags().BoolVar(&inactive, "inactive", false, "create the event closed for registration")
	_ = add.MarkFlagRequired("title")

	root := &cobra.Command{Use: "event", Short: "Manage events"}
	root.AddCommand(add)
	return root
}
