package account

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"pyrechat/internal/chaterr"
)

const defaultHTTPTimeout = 5 * time.Second

// ErrUnauthorized is returned when the relay rejects a credential.
var ErrUnauthorized = chaterr.ErrUnauthorized

// TokenResponse is the body of a successful POST /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Profile is the body of GET /users/me.
type Profile struct {
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Disabled    bool   `json:"disabled"`
}

type RegisterRequest struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
}

// Client talks to the relay's HTTP credential and profile API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Login exchanges a username and password for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp TokenResponse
	if err := c.do(req, &resp); err != nil {
		return TokenResponse{}, errors.Wrap(err, "login")
	}
	if resp.AccessToken == "" {
		return TokenResponse{}, errors.New("login: relay returned no access token")
	}
	return resp, nil
}

// Register creates an account. Optional fields are omitted when empty.
func (c *Client) Register(ctx context.Context, r RegisterRequest) error {
	query := url.Values{}
	query.Set("username", r.Username)
	query.Set("password", r.Password)
	if r.Email != "" {
		query.Set("email", r.Email)
	}
	if r.DisplayName != "" {
		query.Set("display_name", r.DisplayName)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	return errors.Wrap(c.do(req, nil), "register")
}

// Me returns the profile for token. A rejected token yields ErrUnauthorized.
func (c *Client) Me(ctx context.Context, token string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	var profile Profile
	if err := c.do(req, &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return chaterr.Wrap(chaterr.Unauthorized, readResponseError(resp.Body), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("relay returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// readResponseError extracts the message from {"detail": ...} or
// {"error": ...} bodies, falling back to the raw text.
func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err == nil {
		for _, key := range []string{"detail", "error"} {
			if msg, ok := parsed[key].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(data))
}

// BaseURLFromEndpoint derives the relay's HTTP base from its websocket URL.
func BaseURLFromEndpoint(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", errors.Wrap(err, "parse relay url")
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", errors.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
