package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pyrechat/internal/app"
)

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        app.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pyrechat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	chat := &clientFlags{}
	root := &cobra.Command{
		Use:   "pyrechat",
		Short: "Terminal client for the Pyre chat relay",
		Long: `pyrechat connects to a Pyre relay over a websocket and shows the room
as a live, append-only log. Run "pyrechat login" once to store a token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			opts.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, chat)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default "+app.DefaultConfigPath()+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	chat.register(root)

	root.AddCommand(
		newChatCmd(opts),
		newPipeCmd(opts),
		newRelayCmd(opts),
		newLocalCmd(opts),
		newLoginCmd(opts),
		newRegisterCmd(opts),
		newWhoamiCmd(opts),
		newLogoutCmd(opts),
		newVersionCmd(),
	)
	return root
}

// clientFlags override the client section of the config.
type clientFlags struct {
	endpoint    string
	token       string
	transport   string
	username    string
	noReconnect bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "relay websocket URL, e.g. wss://chat.example.com/pyre")
	cmd.Flags().StringVar(&f.token, "token", "", "session token (default: the one saved by login)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "websocket implementation: gorilla or coder")
	cmd.Flags().StringVar(&f.username, "user", "", "your username, used to highlight your own messages")
	cmd.Flags().BoolVar(&f.noReconnect, "no-reconnect", false, "do not reconnect after the relay drops the connection")
}

func (f *clientFlags) apply(cfg app.ClientConfig) app.ClientConfig {
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.token != "" {
		cfg.Token = f.token
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.noReconnect {
		cfg.Reconnect.Enabled = false
	}
	return cfg
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat view (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runChat(ctx context.Context, opts *rootOptions, flags *clientFlags) error {
	logger, closer, err := app.NewFileLogger(opts.cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg := flags.apply(opts.cfg.Client)
	logger.Info().Str("transport", cfg.Transport).Msg("starting chat view")
	return app.RunClient(ctx, cfg, flags.username, logger)
}

func newPipeCmd(opts *rootOptions) *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Send stdin lines as messages and print the room to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewConsoleLogger(opts.cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			return app.RunPipe(cmd.Context(), flags.apply(opts.cfg.Client), cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	flags.register(cmd)
	return cmd
}

type relayFlags struct {
	addr   string
	path   string
	db     string
	secret string
}

func (f *relayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&f.path, "path", "", "websocket path")
	cmd.Flags().StringVar(&f.db, "db", "", "sqlite database path")
	cmd.Flags().StringVar(&f.secret, "secret", "", "token signing secret (prefer PYRE_RELAY_SECRET)")
}

func (f *relayFlags) apply(cfg app.RelayConfig) app.RelayConfig {
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.path != "" {
		cfg.Path = f.path
	}
	if f.db != "" {
		cfg.DBPath = f.db
	}
	if f.secret != "" {
		cfg.Secret = f.secret
	}
	return cfg
}

func newRelayCmd(opts *rootOptions) *cobra.Command {
	flags := &relayFlags{}
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewConsoleLogger(opts.cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			handle, err := app.RunRelay(cmd.Context(), flags.apply(opts.cfg.Relay), logger)
			if err != nil {
				return err
			}
			return handle.Wait()
		},
	}
	flags.register(cmd)
	cmd.AddCommand(
		newUserStateCmd(opts, "disable-user", "Block an account from logging in or connecting", true),
		newUserStateCmd(opts, "enable-user", "Unblock an account", false),
	)
	return cmd
}

func newUserStateCmd(opts *rootOptions, use, short string, disabled bool) *cobra.Command {
	flags := &relayFlags{}
	cmd := &cobra.Command{
		Use:   use + " USERNAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.SetUserDisabled(cmd.Context(), flags.apply(opts.cfg.Relay), args[0], disabled); err != nil {
				return err
			}
			verb := "Enabled"
			if disabled {
				verb = "Disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s.\n", verb, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.db, "db", "", "sqlite database path")
	return cmd
}

func newLocalCmd(opts *rootOptions) *cobra.Command {
	var username string
	flags := &relayFlags{}
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Start a private relay on this machine and chat on it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closer, err := app.NewFileLogger(opts.cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()
			if username == "" {
				username = defaultUsername()
			}
			relayCfg := flags.apply(opts.cfg.Relay)
			if flags.addr == "" {
				relayCfg.Addr = "127.0.0.1:0"
			}
			return runLocal(cmd.Context(), opts.cfg.Client, relayCfg, username, logger)
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username to chat as (default $USER)")
	flags.register(cmd)
	return cmd
}

func runLocal(ctx context.Context, clientCfg app.ClientConfig, relayCfg app.RelayConfig, username string, logger zerolog.Logger) error {
	handle, err := app.RunRelay(ctx, relayCfg, logger)
	if err != nil {
		return err
	}
	defer stopRelay(handle)

	token, err := handle.IssueToken(ctx, username)
	if err != nil {
		return err
	}
	clientCfg.Endpoint = handle.Endpoint()
	clientCfg.Token = token
	if err := app.RunClient(ctx, clientCfg, username, logger); err != nil {
		return err
	}
	stopRelay(handle)
	return handle.Wait()
}

func stopRelay(handle *app.RelayHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.VersionString("pyrechat"))
		},
	}
}

func defaultUsername() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}
