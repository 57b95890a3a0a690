package mcp

import (
	"encoding/json"
	"fmt"
)

// Method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
	MethodPing        = "ping"

	// older clients send the bare form
	methodInitializedShort = "initialized"
)

// Request is a decoded protocol request. The concrete type identifies the
// variant: *CallToolRequest, *ListToolsRequest, *PingRequest,
// *InitializeRequest or *InitializedNotification.
type Request interface {
	Method() string
	isRequest()
}

// CallToolRequest invokes a tool by name.
type CallToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ListToolsRequest asks for the tool catalogue. Cursor is accepted for
// compatibility; the full list is always returned.
type ListToolsRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// PingRequest is a liveness probe.
type PingRequest struct{}

// InitializeRequest opens a session.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializedNotification confirms the session is ready. It never gets a
// response.
type InitializedNotification struct{}

func (*CallToolRequest) Method() string         { return MethodCallTool }
func (*ListToolsRequest) Method() string        { return MethodListTools }
func (*PingRequest) Method() string             { return MethodPing }
func (*InitializeRequest) Method() string       { return MethodInitialize }
func (*InitializedNotification) Method() string { return MethodInitialized }

func (*CallToolRequest) isRequest()         {}
func (*ListToolsRequest) isRequest()        {}
func (*PingRequest) isRequest()             {}
func (*InitializeRequest) isRequest()       {}
func (*InitializedNotification) isRequest() {}

// NewCallToolRequest builds a call request. A nil arguments map is replaced
// by an empty one.
func NewCallToolRequest(name string, arguments map[string]any) *CallToolRequest {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return &CallToolRequest{Name: name, Arguments: arguments}
}

func (r *CallToolRequest) MarshalJSON() ([]byte, error) {
	args := r.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal(struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}{r.Name, args})
}

// StringArg returns a string argument.
func (r *CallToolRequest) StringArg(key string) (string, bool) {
	v, ok := r.Arguments[key].(string)
	return v, ok
}

// IntArg returns a numeric argument truncated to int. JSON numbers decode
// as float64, so both representations are accepted.
func (r *CallToolRequest) IntArg(key string) (int, bool) {
	switch v := r.Arguments[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// DecodeCallTool decodes a bare {"name","arguments"} object.
func DecodeCallTool(data []byte) (*CallToolRequest, error) {
	req, err := decodeParams(MethodCallTool, data)
	if err != nil {
		return nil, err
	}
	return req.(*CallToolRequest), nil
}

// decodeParams maps a method name and its raw params onto a Request variant.
// Failures are always *Error values.
func decodeParams(method string, params json.RawMessage) (Request, error) {
	switch method {
	case MethodCallTool:
		if isAbsent(params) {
			return nil, NewInvalidParams("missing params for tools/call")
		}
		var req CallToolRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, NewInvalidParams(fmt.Sprintf("invalid tools/call params: %v", err))
		}
		if req.Name == "" {
			return nil, NewInvalidParams("tool name is required")
		}
		if req.Arguments == nil {
			req.Arguments = map[string]any{}
		}
		return &req, nil

	case MethodListTools:
		var req ListToolsRequest
		if !isAbsent(params) {
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, NewInvalidParams(fmt.Sprintf("invalid tools/list params: %v", err))
			}
		}
		return &req, nil

	case MethodPing:
		return &PingRequest{}, nil

	case MethodInitialize:
		if isAbsent(params) {
			return nil, NewInvalidParams("missing params for initialize")
		}
		var req InitializeRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, NewInvalidParams(fmt.Sprintf("invalid initialize params: %v", err))
		}
		if req.ProtocolVersion == "" {
			return nil, NewInvalidParams("protocolVersion is required")
		}
		return &req, nil

	case MethodInitialized, methodInitializedShort:
		return &InitializedNotification{}, nil

	default:
		return nil, NewMethodNotFound(method)
	}
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// paramsOf returns the params object for r, or nil when the method carries none.
func paramsOf(r Request) any {
	switch r.(type) {
	case *PingRequest, *InitializedNotification:
		return nil
	default:
		return r
	}
}
