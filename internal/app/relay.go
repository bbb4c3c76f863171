package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"pyrechat/internal/relay"
	"pyrechat/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// RelayHandle represents a running relay instance.
type RelayHandle struct {
	addr     string
	path     string
	cfg      RelayConfig
	server   *http.Server
	relay    *relay.Server
	store    *storage.Store
	logger   zerolog.Logger
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	err      error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *RelayHandle) Addr() string {
	return h.addr
}

// Endpoint is the websocket URL clients on this machine should dial.
func (h *RelayHandle) Endpoint() string {
	host, port, err := net.SplitHostPort(h.addr)
	if err != nil {
		return "ws://" + h.addr + h.path
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, port) + h.path
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *RelayHandle) Stop(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.quitOnce.Do(func() { close(h.quit) })
	return h.shutdown(ctx)
}

// Wait blocks until the relay exits and its store is closed.
func (h *RelayHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// IssueToken returns a credential for username, creating the account with
// an unusable password when it does not exist. Local mode uses it so the
// user does not have to register against their own relay.
func (h *RelayHandle) IssueToken(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", errors.New("username is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(randomHex(16)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	_, err = h.store.CreateUser(ctx, storage.NewUser{Username: username, PasswordHash: hash})
	if err != nil && !errors.Is(err, storage.ErrUserExists) {
		return "", errors.Wrap(err, "create local user")
	}
	return relay.IssueAccessToken(h.cfg.Secret, username, h.cfg.TokenTTL)
}

// RunRelay opens the SQLite store, runs migrations, and starts serving in
// the background. Cancelling ctx or calling Stop shuts it down; Wait
// reports how it ended.
func RunRelay(ctx context.Context, cfg RelayConfig, logger zerolog.Logger) (*RelayHandle, error) {
	cfg.Path = NormalizePath(cfg.Path)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = relay.DefaultTokenTTL
	}
	if cfg.Secret == "" {
		cfg.Secret = randomHex(32)
		logger.Warn().Msg("no relay secret configured; issued tokens will not survive a restart")
	}

	store, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	server, err := relay.NewServer(store, relay.Options{
		Path:     cfg.Path,
		Secret:   cfg.Secret,
		TokenTTL: cfg.TokenTTL,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		server.Close()
		_ = store.Close()
		return nil, errors.Wrap(err, "listen")
	}

	h := &RelayHandle{
		addr:   listener.Addr().String(),
		path:   cfg.Path,
		cfg:    cfg,
		server: &http.Server{Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second},
		relay:  server,
		store:  store,
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := h.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		select {
		case <-gctx.Done():
		case <-h.quit:
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return h.shutdown(shutdownCtx)
	})
	go func() {
		defer close(h.done)
		h.err = group.Wait()
		if err := h.store.Close(); err != nil {
			h.logger.Error().Err(err).Msg("store close")
		}
	}()

	logger.Info().Str("addr", h.addr).Str("path", cfg.Path).Msg("relay listening")
	return h, nil
}

// SetUserDisabled blocks or unblocks an account in the relay's database.
// A running relay refuses a disabled user's next login or connection.
func SetUserDisabled(ctx context.Context, cfg RelayConfig, username string, disabled bool) error {
	store, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SetDisabled(ctx, username, disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Errorf("no such user %q", username)
		}
		return errors.Wrap(err, "update user")
	}
	return nil
}

func openStore(ctx context.Context, dbPath string) (*storage.Store, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if !strings.HasPrefix(dbPath, ":memory:") && !strings.HasPrefix(dbPath, "file:") && !strings.HasPrefix(dbPath, "sqlite://") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, errors.Wrap(err, "create db dir")
		}
	}
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return store, nil
}

// shutdown stops accepting requests and then disconnects every websocket,
// which the HTTP server no longer tracks once upgraded.
func (h *RelayHandle) shutdown(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	h.relay.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "relay shutdown")
	}
	return nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
