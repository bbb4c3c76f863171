package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pyrechat/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var configPath, addr, db string
	cmd := &cobra.Command{
		Use:           "pyre-relay",
		Short:         "Pyre chat relay: accounts, tokens and the /pyre websocket",
		Args:          cobra.NoArgs,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Relay.Addr = addr
			}
			if db != "" {
				cfg.Relay.DBPath = db
			}
			logger, err := app.NewConsoleLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			logger = logger.With().Str("version", app.Version).Logger()
			handle, err := app.RunRelay(cmd.Context(), cfg.Relay, logger)
			if err != nil {
				return err
			}
			return handle.Wait()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8000, or PYRE_RELAY_ADDR)")
	cmd.Flags().StringVar(&db, "db", "", "sqlite database path (or PYRE_RELAY_DB_PATH)")

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pyre-relay: %v\n", err)
		os.Exit(1)
	}
}
