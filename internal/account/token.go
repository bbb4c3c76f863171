// Package account provides the session credential: where it is stored, how
// it is obtained from the relay, and the profile behind it.
package account

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// TokenProvider returns the current session credential, or "" when there is
// none.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a credential supplied directly, e.g. from a flag.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// Chain returns the first non-empty token of its providers.
type Chain []TokenProvider

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		token, err := p.Token(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", nil
}

// Credentials is what a successful login leaves on disk.
type Credentials struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Server   string `json:"server,omitempty"`
}

// FileStore keeps Credentials in a JSON file readable only by the owner.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

// Load returns nil, nil when no credentials have been saved.
func (f *FileStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read credentials")
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrapf(err, "parse credentials %s", f.path)
	}
	if creds.Token == "" {
		return nil, nil
	}
	return &creds, nil
}

func (f *FileStore) Save(creds Credentials) error {
	if creds.Token == "" {
		return errors.New("refusing to save empty token")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write credentials")
	}
	return errors.Wrap(os.Rename(tmp, f.path), "replace credentials")
}

// Discard removes saved credentials. A missing file is not an error.
func (f *FileStore) Discard() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove credentials")
	}
	return nil
}

func (f *FileStore) Token(context.Context) (string, error) {
	creds, err := f.Load()
	if err != nil || creds == nil {
		return "", err
	}
	return creds.Token, nil
}
