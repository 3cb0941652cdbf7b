// Package llm bridges iris model providers to the small chat interface the
// conversation orchestrator needs.
package llm

import "context"

// DefaultModel is the tool-calling model used when none is configured.
const DefaultModel = "MFDoom/deepseek-r1-tool-calling:14b"

// DefaultTemperature is the sampling temperature used when none is set.
const DefaultTemperature = 0.7

// Roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single non-streaming chat exchange.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

// Usage counts tokens for one exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Client sends chat requests to a model backend.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req ChatRequest) (ChatResponse, error)

// Chat calls f.
func (f ClientFunc) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return f(ctx, req)
}

// Float64 returns a pointer to v, for ChatRequest.Temperature.
func Float64(v float64) *float64 {
	return &v
}
