// Package chaterr holds the error taxonomy shared by the chat client layers.
package chaterr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code categorizes a chat error.
type Code int

const (
	Unknown Code = iota
	// AuthMissing means no credential was available when a connection was requested.
	AuthMissing
	// TransportError covers handshake and mid-stream transport failures.
	TransportError
	// DecodeError is a frame that could not be parsed. It never aborts a session.
	DecodeError
	// NotConnected is a send attempted outside the Open state.
	NotConnected
	// RemoteClose is a relay-initiated or abnormal close.
	RemoteClose
	// LocalClose is a close requested by this client.
	LocalClose
	// Unauthorized is a credential rejected by the relay's HTTP API.
	Unauthorized
)

func (c Code) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case AuthMissing:
		return "auth_missing"
	case TransportError:
		return "transport_error"
	case DecodeError:
		return "decode_error"
	case NotConnected:
		return "not_connected"
	case RemoteClose:
		return "remote_close"
	case LocalClose:
		return "local_close"
	case Unauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("unknown_code_%d", int(c))
	}
}

// Error is a categorized error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

// CodeOf returns the code of the first *Error in err's chain, or Unknown.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Unknown
}

// Sentinels for errors.Is comparisons.
var (
	ErrAuthMissing  = New(AuthMissing, "no session credential")
	ErrNotConnected = New(NotConnected, "connection is not open")
	ErrUnauthorized = New(Unauthorized, "credential rejected")
	ErrTransport    = New(TransportError, "transport failure")
	ErrRemoteClose  = New(RemoteClose, "closed by relay")
	ErrLocalClose   = New(LocalClose, "closed locally")
)
