package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/petal-labs/petalmcp/provider"
)

// ValidateArguments checks parameters against the owning tool's input
// schema before the call leaves the process. Tools without a schema, or
// whose schema does not compile, pass through unchecked. Unknown tools are
// left for the default path to report.
func ValidateArguments(router Router) Middleware {
	var cache sync.Map // *provider.Connection + tool name -> *jsonschema.Resolved

	type key struct {
		conn *provider.Connection
		tool string
	}

	resolve := func(conn *provider.Connection, tool string) *jsonschema.Resolved {
		k := key{conn: conn, tool: tool}
		if cached, ok := cache.Load(k); ok {
			resolved, _ := cached.(*jsonschema.Resolved)
			return resolved
		}
		descriptor, ok := conn.Tool(tool)
		var resolved *jsonschema.Resolved
		if ok && len(descriptor.InputSchema) > 0 {
			resolved, _ = compileSchema(descriptor.InputSchema)
		}
		cache.Store(k, resolved)
		return resolved
	}

	return func(next ExecFunc) ExecFunc {
		return func(ctx context.Context, call Call) (Result, error) {
			conn, ok := router.FindOwner(call.Tool)
			if !ok {
				return next(ctx, call)
			}
			resolved := resolve(conn, call.Tool)
			if resolved == nil {
				return next(ctx, call)
			}
			if err := resolved.Validate(toJSONValue(call.Params)); err != nil {
				err = fmt.Errorf("%w: %s: %v", ErrInvalidArguments, call.Tool, err)
				return FailedResult(call.Tool, err), err
			}
			return next(ctx, call)
		}
	}
}

func compileSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}

// toJSONValue normalizes params to the types encoding/json produces.
func toJSONValue(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return params
	}
	return out
}
