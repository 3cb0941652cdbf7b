package executor

import "time"

// Stage labels a progress event.
type Stage string

const (
	StageStart    Stage = "start"
	StageStep     Stage = "step"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
	StageComplete Stage = "complete"
)

// ProgressEvent is a user-facing note about a running tool.
type ProgressEvent struct {
	Tool     string
	Stage    Stage
	Message  string
	Duration time.Duration
	Err      error
}
