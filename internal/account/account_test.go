package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pyrechat/internal/chaterr"
)

func TestFileStoreLifecycle(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json"))
	ctx := context.Background()

	creds, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, creds)
	token, err := store.Token(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	require.NoError(t, store.Save(Credentials{Username: "ada", Token: "abc123", Server: "ws://localhost:8000/pyre"}))
	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	creds, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, "ada", creds.Username)
	token, err = store.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", token)

	require.NoError(t, store.Discard())
	require.NoError(t, store.Discard())
	creds, err = store.Load()
	require.NoError(t, err)
	require.Nil(t, creds)

	require.Error(t, store.Save(Credentials{Username: "ada"}))
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	_, err := NewFileStore(path).Load()
	require.Error(t, err)
}

func TestChainPicksFirstPresentToken(t *testing.T) {
	ctx := context.Background()
	token, err := Chain{StaticToken(""), nil, StaticToken("from-flag"), StaticToken("other")}.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "from-flag", token)

	token, err = Chain{StaticToken("")}.Token(ctx)
	require.NoError(t, err)
	require.Empty(t, token)
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("username") != "ada" || r.PostForm.Get("password") != "lovelace" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect username or password"})
			return
		}
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "abc123", TokenType: "bearer"})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("username") == "taken" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Username already exists"})
			return
		}
		require.Equal(t, "secret", q.Get("password"))
		require.False(t, q.Has("email"))
		require.Equal(t, "Ada L", q.Get("display_name"))
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "User registered successfully"})
	})
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Profile{Username: "ada", DisplayName: "Ada L"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLogin(t *testing.T) {
	client := NewClient(newAPIServer(t).URL, 0)
	ctx := context.Background()

	resp, err := client.Login(ctx, "ada", "lovelace")
	require.NoError(t, err)
	require.Equal(t, "abc123", resp.AccessToken)

	_, err = client.Login(ctx, "ada", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, err.Error(), "Incorrect username or password")
}

func TestClientRegister(t *testing.T) {
	client := NewClient(newAPIServer(t).URL+"/", 0)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx, RegisterRequest{Username: "ada", Password: "secret", DisplayName: "Ada L"}))
	err := client.Register(ctx, RegisterRequest{Username: "taken", Password: "secret"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Username already exists")
	require.Contains(t, err.Error(), "relay returned 400")
}

func TestClientMe(t *testing.T) {
	client := NewClient(newAPIServer(t).URL, 0)
	ctx := context.Background()

	profile, err := client.Me(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "ada", profile.Username)

	_, err = client.Me(ctx, "expired")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, chaterr.Unauthorized, chaterr.CodeOf(err))
}

func TestBaseURLFromEndpoint(t *testing.T) {
	base, err := BaseURLFromEndpoint("wss://chat.example.com:8443/pyre?token=x")
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com:8443", base)

	base, err = BaseURLFromEndpoint("ws://localhost:8000/pyre")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", base)

	_, err = BaseURLFromEndpoint("ftp://example.com")
	require.Error(t, err)
}
