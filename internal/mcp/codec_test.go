package mcp

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *RequestMessage
	}{
		{
			name: "call tool",
			msg: &RequestMessage{
				ID:      json.RawMessage(`1`),
				Request: NewCallToolRequest("echo", map[string]any{"message": "hi", "nested": map[string]any{"ok": true}}),
			},
		},
		{
			name: "call tool without arguments",
			msg:  &RequestMessage{ID: json.RawMessage(`"abc"`), Request: NewCallToolRequest("uuid", nil)},
		},
		{
			name: "list tools",
			msg:  &RequestMessage{ID: json.RawMessage(`2`), Request: &ListToolsRequest{}},
		},
		{
			name: "list tools with cursor",
			msg:  &RequestMessage{ID: json.RawMessage(`3`), Request: &ListToolsRequest{Cursor: "page-2"}},
		},
		{
			name: "ping",
			msg:  &RequestMessage{ID: json.RawMessage(`4`), Request: &PingRequest{}},
		},
		{
			name: "initialize",
			msg: &RequestMessage{
				ID: json.RawMessage(`5`),
				Request: &InitializeRequest{
					ProtocolVersion: LatestProtocolVersion,
					Capabilities:    ClientCapabilities{Roots: &RootsCapability{ListChanged: true}},
					ClientInfo:      Implementation{Name: "client", Version: "1.2.3"},
				},
			},
		},
		{
			name: "initialized notification",
			msg:  &RequestMessage{Request: &InitializedNotification{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeRequest(tt.msg)
			if err != nil {
				t.Fatalf("EncodeRequest() error = %v", err)
			}
			got, err := DecodeRequest(data)
			if err != nil {
				t.Fatalf("DecodeRequest(%s) error = %v", data, err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch:\n got  %#v\n want %#v", got, tt.msg)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp Response
	}{
		{
			name: "text result",
			resp: Success(TextResult("hi")),
		},
		{
			name: "mixed content",
			resp: Success(&ToolResult{
				Content: []Content{
					NewTextContent(""),
					&ImageContent{Data: "aGVsbG8=", MimeType: "image/png", AltText: "hello"},
					&ResourceContent{URI: "file:///tmp/a.txt", MimeType: "text/plain", Metadata: map[string]any{"size": "3"}},
					NewResourceContent("https://example.com"),
				},
				IsError: true,
			}),
		},
		{
			name: "tool list",
			resp: Success(&ToolList{
				Tools: []ToolDescriptor{
					{Name: "echo", Description: "Echo a message", InputSchema: DefaultInputSchema()},
				},
				NextCursor: "next",
			}),
		},
		{
			name: "pong",
			resp: Success(&Pong{}),
		},
		{
			name: "initialize ack",
			resp: Success(&InitializeAck{
				ProtocolVersion: LatestProtocolVersion,
				Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
				ServerInfo:      Implementation{Name: "mcp-server", Version: "0.1.0"},
			}),
		},
		{
			name: "error with data",
			resp: Failure(NewMethodNotFound("missing")),
		},
		{
			name: "error without data",
			resp: Failure(NewTimeout("request timed out")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &ResponseMessage{ID: json.RawMessage(`7`), Response: tt.resp}
			data, err := EncodeResponse(in)
			if err != nil {
				t.Fatalf("EncodeResponse() error = %v", err)
			}
			got, err := DecodeResponse(data)
			if err != nil {
				t.Fatalf("DecodeResponse(%s) error = %v", data, err)
			}
			if !reflect.DeepEqual(got, in) {
				t.Errorf("round trip mismatch:\n got  %#v\n want %#v", got.Response, in.Response)
			}
		})
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode ErrorCode
		wantID   string
	}{
		{"malformed json", `{"jsonrpc":"2.0",`, ErrCodeParse, ""},
		{"not an object", `[1,2]`, ErrCodeInvalidRequest, ""},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, ErrCodeInvalidRequest, "1"},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, ErrCodeInvalidRequest, "1"},
		{"method not a string", `{"jsonrpc":"2.0","id":9,"method":5}`, ErrCodeInvalidRequest, "9"},
		{"unknown method", `{"jsonrpc":"2.0","id":2,"method":"resources/list"}`, ErrCodeMethodNotFound, "2"},
		{"call without params", `{"jsonrpc":"2.0","id":3,"method":"tools/call"}`, ErrCodeInvalidParams, "3"},
		{"call with empty name", `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":""}}`, ErrCodeInvalidParams, "4"},
		{"call with bad arguments", `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"x","arguments":[1]}}`, ErrCodeInvalidParams, "5"},
		{"initialize without version", `{"jsonrpc":"2.0","id":6,"method":"initialize","params":{}}`, ErrCodeInvalidParams, "6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeRequest([]byte(tt.input))
			if err == nil {
				t.Fatal("DecodeRequest() expected error, got nil")
			}
			var rpcErr *Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("error %v is not *Error", err)
			}
			if rpcErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rpcErr.Code, tt.wantCode)
			}
			var gotID string
			if msg != nil {
				gotID = string(msg.ID)
			}
			if gotID != tt.wantID {
				t.Errorf("id = %q, want %q", gotID, tt.wantID)
			}
		})
	}
}

func TestDecodeRequestLenient(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Request
	}{
		{
			name:  "unknown fields ignored",
			input: `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"},"extra":true},"meta":{}}`,
			want:  NewCallToolRequest("echo", map[string]any{"message": "hi"}),
		},
		{
			name:  "arguments default to empty map",
			input: `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`,
			want:  &CallToolRequest{Name: "echo", Arguments: map[string]any{}},
		},
		{
			name:  "missing jsonrpc field accepted",
			input: `{"id":1,"method":"ping"}`,
			want:  &PingRequest{},
		},
		{
			name:  "short initialized alias",
			input: `{"jsonrpc":"2.0","method":"initialized"}`,
			want:  &InitializedNotification{},
		},
		{
			name:  "list tools with null params",
			input: `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":null}`,
			want:  &ListToolsRequest{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeRequest([]byte(tt.input))
			if err != nil {
				t.Fatalf("DecodeRequest() error = %v", err)
			}
			if !reflect.DeepEqual(msg.Request, tt.want) {
				t.Errorf("Request = %#v, want %#v", msg.Request, tt.want)
			}
		})
	}
}

func TestNotificationHasNoID(t *testing.T) {
	msg, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if !msg.IsNotification() {
		t.Error("IsNotification() = false, want true")
	}
}

func TestToolResultWireShape(t *testing.T) {
	data, err := EncodeResult(TextResult("hi"))
	if err != nil {
		t.Fatalf("EncodeResult() error = %v", err)
	}
	want := `{"content":[{"type":"text","text":"hi"}],"isError":false}`
	if string(data) != want {
		t.Errorf("EncodeResult() = %s, want %s", data, want)
	}

	data, err = EncodeResult(&ToolResult{})
	if err != nil {
		t.Fatalf("EncodeResult() error = %v", err)
	}
	if string(data) != `{"content":[],"isError":false}` {
		t.Errorf("empty result encoded as %s", data)
	}
}

func TestEncodeResponseRequiresPayload(t *testing.T) {
	if _, err := EncodeResponse(&ResponseMessage{ID: json.RawMessage(`1`)}); err == nil {
		t.Error("EncodeResponse() with empty response expected error")
	}
}

func TestErrorResponseHasNullIDWhenUnknown(t *testing.T) {
	data, err := EncodeResponse(&ResponseMessage{Response: Failure(NewParseError("bad"))})
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["id"]) != "null" {
		t.Errorf("id = %s, want null", raw["id"])
	}
}
