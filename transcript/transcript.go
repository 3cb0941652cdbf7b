// Package transcript persists completed conversation turns.
package transcript

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("transcript: record not found")

// Invocation is one executed tool call within a turn.
type Invocation struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Provider   string         `json:"provider,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Record is one stored turn.
type Record struct {
	ID          string        `json:"id"`
	Query       string        `json:"query"`
	Model       string        `json:"model"`
	Response    string        `json:"response"`
	FinalText   string        `json:"final_text"`
	Grammar     string        `json:"grammar,omitempty"`
	Invocations []Invocation  `json:"invocations"`
	CreatedAt   time.Time     `json:"created_at"`
	Duration    time.Duration `json:"duration"`
}

// Store persists turn records.
type Store interface {
	// Append stores a record.
	Append(ctx context.Context, rec Record) error

	// List returns the most recent records first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Record, error)

	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
}
