package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jarsater/toolrpc/internal/mcp"
)

// HTTPClient is the calling side of the HTTP binding. SendRequest performs
// the round trip and queues the response for ReceiveResponse.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger

	responses chan *mcp.ResponseMessage
	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultHTTPConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		responses: make(chan *mcp.ResponseMessage, 16),
		done:      make(chan struct{}),
	}
}

// Do performs one call and returns its response. Protocol errors come back
// as error responses; the returned error is reserved for transport failures.
func (c *HTTPClient) Do(ctx context.Context, req mcp.Request) (mcp.Response, error) {
	select {
	case <-c.done:
		return mcp.Response{}, ErrClosed
	default:
	}

	switch r := req.(type) {
	case *mcp.CallToolRequest:
		body, err := json.Marshal(r)
		if err != nil {
			return mcp.Response{}, fmt.Errorf("encode call: %w", err)
		}
		return c.roundTrip(ctx, http.MethodPost, RouteCallTool, body)
	case *mcp.ListToolsRequest:
		path := RouteListTools
		if r.Cursor != "" {
			path += "?cursor=" + url.QueryEscape(r.Cursor)
		}
		return c.roundTrip(ctx, http.MethodGet, path, nil)
	case *mcp.PingRequest:
		return c.ping(ctx)
	default:
		return mcp.Response{}, fmt.Errorf("%s: %w", req.Method(), ErrNotSupported)
	}
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, body []byte) (mcp.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return mcp.Response{}, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return mcp.Response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debugf("%s %s -> %d", method, path, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return mcp.Response{}, fmt.Errorf("read response: %w", err)
	}

	var probe struct {
		Error *mcp.Error `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Error != nil {
		return mcp.Failure(probe.Error), nil
	}
	if resp.StatusCode != http.StatusOK {
		return mcp.Failure(mcp.Errorf(mcp.ErrCodeInternal, "http status %d", resp.StatusCode)), nil
	}

	result, err := mcp.DecodeResult(data)
	if err != nil {
		return mcp.Response{}, err
	}
	return mcp.Success(result), nil
}

func (c *HTTPClient) ping(ctx context.Context) (mcp.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+RouteHealth, nil)
	if err != nil {
		return mcp.Response{}, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return mcp.Response{}, fmt.Errorf("health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return mcp.Failure(mcp.Errorf(mcp.ErrCodeInternal, "health check returned %d", resp.StatusCode)), nil
	}
	return mcp.Success(&mcp.Pong{}), nil
}

// SendRequest performs the call and queues its response under msg.ID.
func (c *HTTPClient) SendRequest(ctx context.Context, msg *mcp.RequestMessage) error {
	resp, err := c.Do(ctx, msg.Request)
	if err != nil {
		return err
	}
	if msg.IsNotification() {
		return nil
	}

	select {
	case c.responses <- &mcp.ResponseMessage{ID: msg.ID, Response: resp}:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveResponse returns the next queued response.
func (c *HTTPClient) ReceiveResponse(ctx context.Context) (*mcp.ResponseMessage, error) {
	select {
	case msg := <-c.responses:
		return msg, nil
	case <-c.done:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveRequest is not supported: HTTP servers never call clients.
func (c *HTTPClient) ReceiveRequest(context.Context) (*mcp.RequestMessage, error) {
	return nil, ErrNotSupported
}

// SendResponse is not supported on the client side of the binding.
func (c *HTTPClient) SendResponse(context.Context, *mcp.ResponseMessage) error {
	return ErrNotSupported
}

// Close releases idle connections. It is safe to call more than once.
func (c *HTTPClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.client.CloseIdleConnections()
	})
	return nil
}

func (c *HTTPClient) Kind() string { return KindHTTP }

func (c *HTTPClient) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *HTTPClient) Metadata() map[string]string {
	return map[string]string{
		"transport":     KindHTTP,
		"version":       "1.1",
		"bidirectional": "false",
		"address":       c.baseURL,
	}
}
