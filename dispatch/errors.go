package dispatch

import (
	"errors"
	"fmt"

	"github.com/onnwee/chatqueue/backend/command"
)

// ErrNotConfigured is wrapped in a ClientError when a command's collaborator is absent.
var ErrNotConfigured = errors.New("client not configured")

// Error is a handler-level failure for one command.
type Error struct {
	Kind command.Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("dispatch %s: %v", e.Kind.Name(), e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// ClientError is a failure reported by an external collaborator (agent, theme, music, ai).
type ClientError struct {
	Client string
	Err    error
}

func (e *ClientError) Error() string { return fmt.Sprintf("%s client: %v", e.Client, e.Err) }

func (e *ClientError) Unwrap() error { return e.Err }

// Client wraps err as a ClientError for client; a nil err stays nil.
func Client(client string, err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{Client: client, Err: err}
}

// IsClientError reports whether err came from the named collaborator. An empty
// client matches any collaborator.
func IsClientError(err error, client string) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	return client == "" || ce.Client == client
}
