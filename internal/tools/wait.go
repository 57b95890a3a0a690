package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/jarsater/toolrpc/internal/mcp"
)

const (
	defaultWaitMillis = 100
	maxWaitMillis     = 60_000
)

// Wait sleeps for "ms" milliseconds. It stops early when the call is
// cancelled, which makes it handy for exercising timeouts and admission.
type Wait struct{}

func NewWait() *Wait {
	return &Wait{}
}

func (t *Wait) Name() string {
	return "wait"
}

func (t *Wait) Description() string {
	return "Sleep for the given number of milliseconds"
}

func (t *Wait) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ms": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": maxWaitMillis,
				"default": defaultWaitMillis,
			},
		},
	}
}

func (t *Wait) Call(ctx context.Context, req *mcp.CallToolRequest) (mcp.Response, error) {
	ms := defaultWaitMillis
	if _, present := req.Arguments["ms"]; present {
		v, ok := req.IntArg("ms")
		if !ok || v < 0 || v > maxWaitMillis {
			return mcp.Response{}, mcp.Errorf(mcp.ErrCodeInvalidParams, "ms must be an integer between 0 and %d", maxWaitMillis)
		}
		ms = v
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return mcp.Success(mcp.TextResult(fmt.Sprintf("waited %dms", ms))), nil
	case <-ctx.Done():
		return mcp.Response{}, ctx.Err()
	}
}
