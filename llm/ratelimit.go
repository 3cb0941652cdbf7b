package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// WithRateLimit blocks each request until limiter admits it. A nil limiter
// returns client unchanged.
func WithRateLimit(client Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return client
	}
	return ClientFunc(func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		if err := limiter.Wait(ctx); err != nil {
			return ChatResponse{}, err
		}
		return client.Chat(ctx, req)
	})
}
