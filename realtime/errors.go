package realtime

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoToken is returned when a channel is asked to connect or fetch while
// the credential source has no current token. Token refresh is owned by an
// external collaborator; this core never retries a missing credential.
var ErrNoToken = errors.New("no credential available")

// CredentialError signals a 401-equivalent response: the current token was
// rejected by the server. It is surfaced to the caller immediately and not
// retried locally.
type CredentialError struct {
	StatusCode int
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential rejected (HTTP %d): token invalid or expired", e.StatusCode)
}

// IsCredentialError reports whether err is (or wraps) a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// StatusError is a non-OK HTTP response that is not a credential failure.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

// TerminalError is reported when a component gives up and stops itself:
// a poller whose lifetime error count exceeded its ceiling, or a stream
// client that exhausted its reconnect attempts. No further work happens
// until the caller starts the component again.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// IsTerminalError reports whether err is (or wraps) a TerminalError.
func IsTerminalError(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
