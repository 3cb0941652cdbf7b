package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// AskTool is the search-style question answering tool.
	AskTool = "perplexity_ask"
	// ThinkingTool is the step-by-step reasoning tool.
	ThinkingTool = "sequentialthinking"

	questionPreview = 50
	thoughtPreview  = 100
)

// AskInterceptor announces the question being sent to a question
// answering tool. The question is the last user message in the "messages"
// parameter, shortened to 50 characters.
func AskInterceptor(tool string) Interceptor {
	if tool == "" {
		tool = AskTool
	}
	return Interceptor{
		Tool: tool,
		Handle: func(ctx context.Context, call Call, next ExecFunc) (Result, error) {
			messages, _ := call.Params["messages"].([]any)
			if question := lastUserMessage(messages); question != "" {
				call.Progress(StageStep, fmt.Sprintf("asking %q", preview(question, questionPreview)))
			} else {
				call.Progress(StageStep, "asking")
			}
			if call.Verbose && len(messages) > 0 {
				raw, _ := json.Marshal(messages)
				call.Progress(StageStep, "messages: "+string(raw))
			}
			return next(ctx, call)
		},
	}
}

// ThinkingInterceptor reports progress through a numbered chain of
// thoughts and marks the chain complete once the tool replies with
// nextThoughtNeeded set to false.
func ThinkingInterceptor(tool string) Interceptor {
	if tool == "" {
		tool = ThinkingTool
	}
	return Interceptor{
		Tool: tool,
		Handle: func(ctx context.Context, call Call, next ExecFunc) (Result, error) {
			number := intParam(call.Params, "thoughtNumber")
			total := intParam(call.Params, "totalThoughts")
			if number == 1 {
				call.Progress(StageStep, fmt.Sprintf("thinking, %d step(s) planned", total))
			}
			call.Progress(StageStep, fmt.Sprintf("thought %d/%d", number, total))
			if call.Verbose {
				if thought, _ := call.Params["thought"].(string); thought != "" {
					call.Progress(StageStep, preview(thought, thoughtPreview))
				}
			}
			return next(ctx, call)
		},
		Complete: FlagCleared("nextThoughtNeeded"),
	}
}

// FlagCleared returns a predicate that is true when the result, read as a
// JSON object, has field set to false. Structured content is checked
// first, then the text content. Results that are not JSON objects, or lack
// the field, never complete.
func FlagCleared(field string) CompletionPredicate {
	return func(result Result) bool {
		if value, ok := result.Structured[field]; ok {
			flag, isBool := value.(bool)
			return isBool && !flag
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(result.Text())), &obj); err != nil {
			return false
		}
		flag, isBool := obj[field].(bool)
		return isBool && !flag
	}
}

func lastUserMessage(messages []any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, _ := messages[i].(map[string]any)
		if msg["role"] != "user" {
			continue
		}
		content, _ := msg["content"].(string)
		return content
	}
	return ""
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
