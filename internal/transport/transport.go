// Package transport carries protocol messages over a byte stream or HTTP.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/jarsater/toolrpc/internal/mcp"
)

// Transport kinds.
const (
	KindStdio = "stdio"
	KindPipe  = "pipe"
	KindHTTP  = "http"
)

var (
	// ErrClosed is returned when sending on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrMessageTooLarge is returned for messages over the configured size limit.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrNotSupported is returned for directions a transport cannot carry.
	ErrNotSupported = errors.New("operation not supported by transport")
)

// Transport moves protocol messages between a caller and a server.
//
// ReceiveRequest and ReceiveResponse block until a message arrives. They
// return (nil, nil) once the underlying stream has closed cleanly.
type Transport interface {
	SendRequest(ctx context.Context, msg *mcp.RequestMessage) error
	ReceiveRequest(ctx context.Context) (*mcp.RequestMessage, error)
	SendResponse(ctx context.Context, msg *mcp.ResponseMessage) error
	ReceiveResponse(ctx context.Context) (*mcp.ResponseMessage, error)

	// Close releases the underlying I/O. It is safe to call more than once.
	Close() error

	Kind() string
	IsConnected() bool
	Metadata() map[string]string
}

// Concurrent is implemented by transports that can have more than one
// request in flight at a time.
type Concurrent interface {
	AllowsConcurrentRequests() bool
}

// AllowsConcurrentRequests reports whether t may be served concurrently.
func AllowsConcurrentRequests(t Transport) bool {
	c, ok := t.(Concurrent)
	return ok && c.AllowsConcurrentRequests()
}

// isClosedErr reports whether err means the peer or the local side closed
// the stream, as opposed to an I/O failure.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}
