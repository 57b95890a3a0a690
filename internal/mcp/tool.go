package mcp

import "context"

// Tool is a named, independently callable unit of functionality.
//
// Call returns either a Response or an error. Returning an *Error passes it
// through to the caller unchanged; any other error is reported as a tool
// failure.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, req *CallToolRequest) (Response, error)
}

// Describe returns the descriptor for t, substituting the default schema
// when t declares none.
func Describe(t Tool) ToolDescriptor {
	schema := t.InputSchema()
	if schema == nil {
		schema = DefaultInputSchema()
	}
	return ToolDescriptor{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: schema,
	}
}

// HandlerFunc is the call body of a FuncTool.
type HandlerFunc func(ctx context.Context, req *CallToolRequest) (Response, error)

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]any
	Handler         HandlerFunc
}

// NewFuncTool returns a Tool backed by fn.
func NewFuncTool(name, description string, schema map[string]any, fn HandlerFunc) *FuncTool {
	return &FuncTool{
		ToolName:        name,
		ToolDescription: description,
		Schema:          schema,
		Handler:         fn,
	}
}

func (t *FuncTool) Name() string                { return t.ToolName }
func (t *FuncTool) Description() string         { return t.ToolDescription }
func (t *FuncTool) InputSchema() map[string]any { return t.Schema }

func (t *FuncTool) Call(ctx context.Context, req *CallToolRequest) (Response, error) {
	return t.Handler(ctx, req)
}
