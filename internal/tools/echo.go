package tools

import (
	"context"

	"github.com/jarsater/toolrpc/internal/mcp"
)

// Echo returns the "message" argument as text.
type Echo struct{}

func NewEcho() *Echo {
	return &Echo{}
}

func (t *Echo) Name() string {
	return "echo"
}

func (t *Echo) Description() string {
	return "Echo a message back to the caller"
}

func (t *Echo) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Text to echo",
			},
		},
		"required": []string{"message"},
	}
}

func (t *Echo) Call(_ context.Context, req *mcp.CallToolRequest) (mcp.Response, error) {
	msg, ok := req.StringArg("message")
	if !ok {
		return mcp.Response{}, mcp.NewInvalidParams("message must be a string")
	}
	return mcp.Success(mcp.TextResult(msg)), nil
}
