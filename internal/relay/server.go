// Package relay is the chat relay: account registration, token issuance and
// the /pyre websocket that fans every message out to all connected users.
package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"pyrechat/internal/chat"
	"pyrechat/internal/storage"
)

const (
	DefaultPath     = "/pyre"
	DefaultTokenTTL = 30 * 24 * time.Hour
)

// Options configures a Server.
type Options struct {
	Path      string
	Secret    string
	TokenTTL  time.Duration
	AuthBurst int
	// AuthWindow is the period over which AuthBurst attempts refill.
	AuthWindow time.Duration
}

// Server owns the relay's handlers and the shared room.
type Server struct {
	opts        Options
	store       *storage.Store
	room        *Room
	metrics     *Metrics
	presence    *PresenceTracker
	authLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

func NewServer(store *storage.Store, opts Options, logger zerolog.Logger) (*Server, error) {
	if opts.Secret == "" {
		return nil, errors.New("relay secret is required")
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.AuthBurst <= 0 {
		opts.AuthBurst = 10
	}
	if opts.AuthWindow <= 0 {
		opts.AuthWindow = time.Minute
	}
	presence := NewPresenceTracker()
	s := &Server{
		opts:        opts,
		store:       store,
		room:        newRoom(),
		metrics:     NewMetrics(presence),
		presence:    presence,
		authLimiter: NewRateLimiter(opts.AuthBurst, opts.AuthWindow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("component", "relay").Logger(),
	}
	go s.room.run()
	return s, nil
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.ServeWS)
	mux.HandleFunc("/register", s.HandleRegister)
	mux.HandleFunc("/token", s.HandleToken)
	mux.HandleFunc("/users/me", s.HandleMe)
	mux.Handle("/metrics", s.metrics)
	return mux
}

// Close disconnects every peer and stops the room.
func (s *Server) Close() {
	s.room.stop()
}

// ServeWS upgrades first and then checks the token, so a rejected client
// sees a 1008 close frame rather than a failed handshake.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	user, err := s.authenticate(r, r.URL.Query().Get("token"))
	if err != nil {
		s.metrics.IncRejected()
		s.logger.Info().Err(err).Str("remote", s.clientIP(r)).Msg("rejecting websocket")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	username := user.Username
	p := newPeer(s.room, conn, username, s.logger.With().Str("user", username).Logger())
	if !s.room.join(p) {
		_ = conn.Close()
		return
	}
	s.metrics.IncConn()
	s.presence.Increment(username)
	s.logger.Info().Str("user", username).Msg("user joined")
	s.room.publish(encodeEvent(chat.KindUserJoined, username, username+" Joined the chat!"))

	go p.writePump()
	go p.readPump(s.metrics.IncRelayed, func() {
		s.metrics.DecConn()
		s.presence.Decrement(username)
		s.logger.Info().Str("user", username).Msg("user left")
		s.room.publish(encodeEvent(chat.KindUserLeft, username, username+" Left the chat!"))
	})
}

type registerResponse struct {
	Message string `json:"message"`
}

// HandleRegister creates an account from query or form parameters.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		writeDetail(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		writeDetail(w, http.StatusBadRequest, "username and password are required")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.internalError(w, err)
		return
	}
	_, err = s.store.CreateUser(r.Context(), storage.NewUser{
		Username:     username,
		PasswordHash: hash,
		Email:        strings.TrimSpace(r.FormValue("email")),
		DisplayName:  strings.TrimSpace(r.FormValue("display_name")),
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeDetail(w, http.StatusBadRequest, "Username already exists")
			return
		}
		s.internalError(w, err)
		return
	}
	s.metrics.IncRegistration()
	writeJSON(w, http.StatusOK, registerResponse{Message: "User registered successfully"})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// HandleToken exchanges form-encoded credentials for a bearer token.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		writeDetail(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if user == nil || user.Disabled || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	token, err := IssueAccessToken(s.opts.Secret, user.Username, s.opts.TokenTTL)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type profileResponse struct {
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Disabled    bool   `json:"disabled"`
}

// HandleMe returns the profile behind the bearer token.
func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	user, err := s.authenticate(r, bearerToken(r))
	if err != nil {
		if errors.Is(err, errInvalidToken) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Disabled:    user.Disabled,
	})
}

// authenticate resolves token to an active user. Unknown, disabled and
// malformed credentials all yield errInvalidToken.
func (s *Server) authenticate(r *http.Request, token string) (*storage.User, error) {
	username, err := ValidateAccessToken(s.opts.Secret, token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		return nil, errors.Wrap(err, "lookup user")
	}
	if user == nil || user.Disabled {
		return nil, errInvalidToken
	}
	return user, nil
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("request failed")
	writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeDetail(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
}
