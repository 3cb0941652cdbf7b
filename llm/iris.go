package llm

import (
	"context"
	"errors"
	"fmt"

	iriscore "github.com/petal-labs/iris/core"
)

// irisClient wraps an iris Provider to implement Client.
type irisClient struct {
	provider iriscore.Provider
}

// NewIrisClient wraps any iris provider.
func NewIrisClient(provider iriscore.Provider) Client {
	return &irisClient{provider: provider}
}

// Chat sends a synchronous chat request via the iris provider.
func (c *irisClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	resp, err := c.provider.Chat(ctx, toRequest(req))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("provider chat failed: %w", err)
	}
	if resp == nil {
		return ChatResponse{}, errors.New("provider chat failed: empty response")
	}
	return ChatResponse{
		Content: resp.Output,
		Model:   string(resp.Model),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func toRequest(req ChatRequest) *iriscore.ChatRequest {
	messages := make([]iriscore.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, iriscore.Message{
			Role:    toIrisRole(m.Role),
			Content: m.Content,
		})
	}

	chatReq := &iriscore.ChatRequest{
		Model:    iriscore.ModelID(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		chatReq.Temperature = &temp
	}
	return chatReq
}

func toIrisRole(role string) iriscore.Role {
	switch role {
	case RoleSystem:
		return iriscore.RoleSystem
	case RoleAssistant:
		return iriscore.RoleAssistant
	default:
		return iriscore.RoleUser
	}
}

var _ Client = (*irisClient)(nil)
