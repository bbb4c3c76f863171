package connection

import (
	"net/url"

	"github.com/pkg/errors"
)

// TokenParam is the query parameter the relay reads the credential from.
const TokenParam = "token"

// BuildEndpoint embeds token in the relay URL. Only ws and wss are accepted.
func BuildEndpoint(base, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "parse relay url")
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", errors.Errorf("invalid scheme for websocket: %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.Errorf("relay url %q has no host", base)
	}
	query := parsed.Query()
	query.Set(TokenParam, token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Redact hides the credential so endpoints can be logged.
func Redact(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid url>"
	}
	query := parsed.Query()
	if query.Has(TokenParam) {
		query.Set(TokenParam, "REDACTED")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
