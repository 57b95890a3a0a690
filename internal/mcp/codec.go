package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

const jsonrpcVersion = "2.0"

// RequestMessage is a request together with its correlation id. A message
// without an id is a notification.
type RequestMessage struct {
	ID      json.RawMessage
	Request Request
}

// IsNotification reports whether the message expects no response.
func (m *RequestMessage) IsNotification() bool {
	return len(m.ID) == 0
}

// ResponseMessage is a response addressed to a request id.
type ResponseMessage struct {
	ID       json.RawMessage
	Response Response
}

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// EncodeRequest encodes a request envelope.
func EncodeRequest(m *RequestMessage) ([]byte, error) {
	if m == nil || m.Request == nil {
		return nil, errors.New("encode request: nil request")
	}
	w := wireRequest{
		JSONRPC: jsonrpcVersion,
		ID:      m.ID,
		Method:  m.Request.Method(),
	}
	if p := paramsOf(m.Request); p != nil {
		params, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", w.Method, err)
		}
		w.Params = params
	}
	return json.Marshal(w)
}

// DecodeRequest decodes a request envelope. On failure the returned error is
// an *Error and the returned message, when non-nil, carries the request id so
// the caller can address its error response.
func DecodeRequest(data []byte) (*RequestMessage, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			msg := &RequestMessage{ID: w.ID}
			if typeErr.Field == "" {
				return msg, NewInvalidRequest("request must be a JSON object")
			}
			return msg, NewInvalidRequest(fmt.Sprintf("invalid field %q", typeErr.Field))
		}
		return nil, NewParseError(err.Error())
	}

	msg := &RequestMessage{ID: w.ID}
	if w.JSONRPC != "" && w.JSONRPC != jsonrpcVersion {
		return msg, NewInvalidRequest(fmt.Sprintf("unsupported jsonrpc version %q", w.JSONRPC))
	}
	if w.Method == "" {
		return msg, NewInvalidRequest("missing method")
	}

	req, err := decodeParams(w.Method, w.Params)
	if err != nil {
		return msg, err
	}
	msg.Request = req
	return msg, nil
}

// EncodeResponse encodes a response envelope.
func EncodeResponse(m *ResponseMessage) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode response: nil message")
	}
	w := wireResponse{JSONRPC: jsonrpcVersion, ID: m.ID}
	switch {
	case m.Response.Error != nil:
		w.Error = m.Response.Error
	case m.Response.Result != nil:
		result, err := EncodeResult(m.Response.Result)
		if err != nil {
			return nil, err
		}
		w.Result = result
	default:
		return nil, errors.New("encode response: neither result nor error set")
	}
	return json.Marshal(w)
}

// DecodeResponse decodes a response envelope.
func DecodeResponse(data []byte) (*ResponseMessage, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewParseError(err.Error())
	}
	msg := &ResponseMessage{ID: w.ID}
	if w.Error != nil {
		msg.Response = Failure(w.Error)
		return msg, nil
	}
	if isAbsent(w.Result) {
		return msg, NewInvalidRequest("response has neither result nor error")
	}
	result, err := DecodeResult(w.Result)
	if err != nil {
		return msg, NewParseError(err.Error())
	}
	msg.Response = Success(result)
	return msg, nil
}
