package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3rciful/meetupbot/core/buildinfo"
	corecmd "github.com/m3rciful/meetupbot/core/cmd"
)

const defaultConfigPath = "config.yaml"

type cli struct {
	configPath *string
}

func main() {
	c := &cli{}
	root := &cobra.Command{
		Use:           "meetupbot",
		Short:         "Telegram assistant for community meetups",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return corecmd.LoadDotEnv()
		},
		RunE: c.run,
	}
	c.configPath = corecmd.ConfigFlag(root, defaultConfigPath)
	root.AddCommand(
		&cobra.Command{Use: "run", Short: "Run the bot (default)", Args: cobra.NoArgs, RunE: c.run},
		c.migrateCmd(),
		c.seedCmd(),
		c.eventCmd(),
	)

	ctx, cancel := corecmd.SignalContext(context.Background())
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		log.Printf("meetupbot: %v", err)
		os.Exit(1)
	}
}
