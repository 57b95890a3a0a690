package tools

import (
	"context"

	"github.com/google/uuid"

	"github.com/jarsater/toolrpc/internal/mcp"
)

// UUID returns a random version 4 UUID.
type UUID struct{}

func NewUUID() *UUID {
	return &UUID{}
}

func (t *UUID) Name() string {
	return "uuid"
}

func (t *UUID) Description() string {
	return "Generate a random UUID"
}

func (t *UUID) InputSchema() map[string]any {
	return nil
}

func (t *UUID) Call(context.Context, *mcp.CallToolRequest) (mcp.Response, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return mcp.Response{}, mcp.NewToolError(err.Error())
	}
	return mcp.Success(mcp.TextResult(id.String())), nil
}
