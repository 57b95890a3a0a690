package mcp

import (
	"encoding/json"
	"fmt"
)

// Result is the payload of a successful response: *ToolResult, *ToolList,
// *Pong or *InitializeAck.
type Result interface {
	isResult()
}

// ToolResult is the output of a tool call. IsError marks a failure the tool
// chose to report as content rather than as a protocol error.
type ToolResult struct {
	Content []Content
	IsError bool
}

// ToolList is the result of tools/list.
type ToolList struct {
	Tools      []ToolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// Pong answers a ping.
type Pong struct{}

// InitializeAck is the result of initialize.
type InitializeAck struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

func (*ToolResult) isResult()    {}
func (*ToolList) isResult()      {}
func (*Pong) isResult()          {}
func (*InitializeAck) isResult() {}

func (r *ToolResult) MarshalJSON() ([]byte, error) {
	content := r.Content
	if content == nil {
		content = []Content{}
	}
	return json.Marshal(struct {
		Content []Content `json:"content"`
		IsError bool      `json:"isError"`
	}{content, r.IsError})
}

func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		Content []json.RawMessage `json:"content"`
		IsError bool              `json:"isError"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content, err := decodeContentList(wire.Content)
	if err != nil {
		return err
	}
	r.Content = content
	r.IsError = wire.IsError
	return nil
}

func (*Pong) MarshalJSON() ([]byte, error) {
	return []byte("{}"), nil
}

func (l *ToolList) MarshalJSON() ([]byte, error) {
	type alias ToolList
	out := alias(*l)
	if out.Tools == nil {
		out.Tools = []ToolDescriptor{}
	}
	return json.Marshal(out)
}

// TextResult returns a single-item text result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{NewTextContent(text)}}
}

// ErrorResult returns a text result flagged as a tool-reported failure.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{NewTextContent(text)}, IsError: true}
}

// Response is exactly one of a Result or an Error.
type Response struct {
	Result Result
	Error  *Error
}

// Success wraps a result.
func Success(r Result) Response {
	return Response{Result: r}
}

// Failure wraps an error.
func Failure(err *Error) Response {
	return Response{Error: err}
}

// IsError reports whether the response carries an error.
func (r Response) IsError() bool {
	return r.Error != nil
}

// EncodeResult encodes a result as a bare JSON object.
func EncodeResult(r Result) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("encode result: nil result")
	}
	return json.Marshal(r)
}

// DecodeResult decodes a bare result object. The variant is inferred from
// which fields are present.
func DecodeResult(data []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	var target Result
	switch {
	case has(fields, "content"):
		target = &ToolResult{}
	case has(fields, "tools"):
		target = &ToolList{}
	case has(fields, "protocolVersion"):
		target = &InitializeAck{}
	default:
		return &Pong{}, nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return target, nil
}

func has(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}
