package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pyrechat/internal/account"
	"pyrechat/internal/app"
)

type accountFlags struct {
	endpoint string
	username string
}

func (f *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "relay websocket URL; the HTTP API is derived from it")
	cmd.Flags().StringVarP(&f.username, "user", "u", "", "username (prompted when omitted)")
}

func (f *accountFlags) client(opts *rootOptions) (*account.Client, string, error) {
	endpoint := opts.cfg.Client.Endpoint
	if f.endpoint != "" {
		endpoint = f.endpoint
	}
	base, err := account.BaseURLFromEndpoint(endpoint)
	if err != nil {
		return nil, "", err
	}
	return account.NewClient(base, opts.cfg.Client.HandshakeTimeout), endpoint, nil
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	flags := &accountFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, endpoint, err := flags.client(opts)
			if err != nil {
				return err
			}
			prompt := newPrompter(cmd)
			username, err := prompt.line("Username: ", flags.username)
			if err != nil {
				return err
			}
			password, err := prompt.password("Password: ")
			if err != nil {
				return err
			}
			token, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				if errors.Is(err, account.ErrUnauthorized) {
					return errors.New("incorrect username or password")
				}
				return err
			}
			store := account.NewFileStore(opts.cfg.Client.TokenFile)
			if err := store.Save(account.Credentials{Username: username, Token: token.AccessToken, Server: endpoint}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s. Token saved to %s\n", username, store.Path())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	flags := &accountFlags{}
	var email, displayName string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := flags.client(opts)
			if err != nil {
				return err
			}
			prompt := newPrompter(cmd)
			username, err := prompt.line("Username: ", flags.username)
			if err != nil {
				return err
			}
			password, err := prompt.password("Password: ")
			if err != nil {
				return err
			}
			confirm, err := prompt.password("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			if err := client.Register(cmd.Context(), account.RegisterRequest{
				Username:    username,
				Password:    password,
				Email:       email,
				DisplayName: displayName,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s. Run \"pyrechat login\" to sign in.\n", username)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&email, "email", "", "optional email address")
	cmd.Flags().StringVar(&displayName, "display-name", "", "optional display name")
	return cmd
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	flags := &accountFlags{}
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the profile behind the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := account.NewFileStore(opts.cfg.Client.TokenFile)
			token, err := app.Tokens(opts.cfg.Client).Token(cmd.Context())
			if err != nil {
				return err
			}
			if token == "" {
				return errors.New("not signed in; run \"pyrechat login\"")
			}
			client, _, err := flags.client(opts)
			if err != nil {
				return err
			}
			profile, err := client.Me(cmd.Context(), token)
			if err != nil {
				if errors.Is(err, account.ErrUnauthorized) {
					if derr := store.Discard(); derr != nil {
						return derr
					}
					return errors.New("saved token was rejected and has been removed; run \"pyrechat login\"")
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Username: %s\n", profile.Username)
			if profile.DisplayName != "" {
				fmt.Fprintf(out, "Name:     %s\n", profile.DisplayName)
			}
			if profile.Email != "" {
				fmt.Fprintf(out, "Email:    %s\n", profile.Email)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := account.NewFileStore(opts.cfg.Client.TokenFile).Discard(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

// prompter reads answers from one buffered stdin so piped input can
// supply several of them.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	tty *os.File
}

func newPrompter(cmd *cobra.Command) *prompter {
	src := cmd.InOrStdin()
	p := &prompter{in: bufio.NewReader(src), out: cmd.ErrOrStderr()}
	if f, ok := src.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = f
	}
	return p
}

func (p *prompter) line(label, preset string) (string, error) {
	if preset != "" {
		return preset, nil
	}
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("a value is required")
	}
	return line, nil
}

// password reads without echo when stdin is a terminal.
func (p *prompter) password(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if p.tty != nil {
		pw, err := term.ReadPassword(int(p.tty.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", errors.Wrap(err, "read password")
		}
		return string(pw), nil
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
