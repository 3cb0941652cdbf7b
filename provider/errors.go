package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

var (
	// ErrInvalidSpec marks a provider definition that can never connect.
	ErrInvalidSpec = errors.New("provider: invalid spec")
	// ErrNotConnected is returned when a call reaches a connection that is
	// not in the Connected state.
	ErrNotConnected = errors.New("provider: not connected")
	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("provider: manager closed")
)

// ConnectError reports a provider that could not be connected.
type ConnectError struct {
	Name     string
	Attempts int
	// Fatal is set when the failure was not retried.
	Fatal bool
	Err   error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return ""
	}
	if e.Fatal {
		return fmt.Sprintf("provider %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("provider %q: connect failed after %d attempt(s): %v", e.Name, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// isFatal reports errors that no amount of retrying will fix.
func isFatal(err error) bool {
	return errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, ErrClosed)
}

// errorKind returns a short label used in observations.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSpec):
		return "invalid_spec"
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "not_found"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "handshake"
	}
}
