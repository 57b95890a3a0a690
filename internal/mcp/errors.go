package mcp

import "fmt"

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

// Protocol-level codes, shared with JSON-RPC 2.0.
const (
	ErrCodeParse          ErrorCode = -32700
	ErrCodeInvalidRequest ErrorCode = -32600
	ErrCodeMethodNotFound ErrorCode = -32601
	ErrCodeInvalidParams  ErrorCode = -32602
	ErrCodeInternal       ErrorCode = -32603
)

// Domain-level codes, in the implementation-defined server error range.
const (
	ErrCodeTool              ErrorCode = -32000
	ErrCodeResourceNotFound  ErrorCode = -32001
	ErrCodePermissionDenied  ErrorCode = -32002
	ErrCodeRateLimited       ErrorCode = -32003
	ErrCodeServerOverloaded  ErrorCode = -32004
	ErrCodeTimeout           ErrorCode = -32005
	ErrCodeUpstream          ErrorCode = -32006
	ErrCodeMissingCredential ErrorCode = -32007
)

var codeNames = map[ErrorCode]string{
	ErrCodeParse:             "parse_error",
	ErrCodeInvalidRequest:    "invalid_request",
	ErrCodeMethodNotFound:    "method_not_found",
	ErrCodeInvalidParams:     "invalid_params",
	ErrCodeInternal:          "internal_error",
	ErrCodeTool:              "tool_error",
	ErrCodeResourceNotFound:  "resource_not_found",
	ErrCodePermissionDenied:  "permission_denied",
	ErrCodeRateLimited:       "rate_limited",
	ErrCodeServerOverloaded:  "server_overloaded",
	ErrCodeTimeout:           "timeout",
	ErrCodeUpstream:          "upstream_error",
	ErrCodeMissingCredential: "missing_credential",
}

// String returns a stable snake_case name, suitable for metric labels.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// IsProtocol reports whether the code belongs to the transport/protocol layer.
func (c ErrorCode) IsProtocol() bool {
	return c <= -32600 && c >= -32700
}

// Error is a structured JSON-RPC error. It doubles as a Go error so tools
// can return it directly from Call.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// NewError creates an error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewParseError(detail string) *Error {
	return &Error{Code: ErrCodeParse, Message: "parse error", Data: detail}
}

func NewInvalidRequest(message string) *Error {
	return &Error{Code: ErrCodeInvalidRequest, Message: message}
}

// NewMethodNotFound reports an unknown method or tool. The name is carried
// in Data so callers can match on it without parsing the message.
func NewMethodNotFound(name string) *Error {
	return &Error{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method '%s' not found", name), Data: name}
}

func NewInvalidParams(message string) *Error {
	return &Error{Code: ErrCodeInvalidParams, Message: message}
}

func NewInternalError(message string) *Error {
	return &Error{Code: ErrCodeInternal, Message: message}
}

func NewToolError(message string) *Error {
	return &Error{Code: ErrCodeTool, Message: message}
}

func NewTimeout(message string) *Error {
	return &Error{Code: ErrCodeTimeout, Message: message}
}

func NewServerOverloaded(message string) *Error {
	return &Error{Code: ErrCodeServerOverloaded, Message: message}
}
