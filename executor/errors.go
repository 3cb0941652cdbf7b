package executor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound matches every *ToolNotFoundError.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is returned when parameters fail schema
	// validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ToolNotFoundError is returned when no connected provider owns a tool.
type ToolNotFoundError struct {
	Tool      string
	Providers []string
}

func (e *ToolNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	connected := strings.Join(e.Providers, ", ")
	if connected == "" {
		connected = "none"
	}
	return fmt.Sprintf("tool %q not found, connected providers: %s", e.Tool, connected)
}

func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// ToolExecutionError is returned when the owning provider fails the call,
// either at the protocol level or by flagging its result as an error.
type ToolExecutionError struct {
	Tool     string
	Provider string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tool %q on %q failed: %v", e.Tool, e.Provider, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func errorKind(err error) string {
	var execErr *ToolExecutionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArguments):
		return "invalid_arguments"
	case errors.As(err, &execErr):
		return "execution"
	default:
		return "error"
	}
}
