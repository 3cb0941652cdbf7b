package executor

import (
	"time"

	"github.com/petal-labs/petalmcp/mcp"
)

// Result is the outcome of one tool execution.
type Result struct {
	Tool       string             `json:"tool"`
	Provider   string             `json:"provider,omitempty"`
	Content    []mcp.ContentBlock `json:"content,omitempty"`
	Structured map[string]any     `json:"structured,omitempty"`
	Error      string             `json:"error,omitempty"`
	Duration   time.Duration      `json:"duration_ns"`
}

// Failed reports whether the execution produced an error.
func (r Result) Failed() bool { return r.Error != "" }

// Text is the content rendered as text.
func (r Result) Text() string { return mcp.JoinContent(r.Content) }

// String renders the result the way it is reported back to the model.
func (r Result) String() string {
	if r.Failed() {
		return "Error: " + r.Error
	}
	return r.Text()
}

// FailedResult builds the result recorded for a failed execution.
func FailedResult(tool string, err error) Result {
	return Result{Tool: tool, Error: err.Error()}
}
