package conversation

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoActiveConnections is returned when a query arrives before any
// provider is connected.
var ErrNoActiveConnections = errors.New("conversation: no connected providers")

// Backend stages.
const (
	StageQuery    = "query"
	StageFollowUp = "follow-up"
)

// BackendError is a model backend failure during one stage of a turn.
type BackendError struct {
	Stage string
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("conversation: model backend failed during %s: %v", e.Stage, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func errorKind(err error) string {
	var backend *BackendError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrNoActiveConnections):
		return "no_connections"
	case errors.As(err, &backend):
		return "backend"
	default:
		return "other"
	}
}
