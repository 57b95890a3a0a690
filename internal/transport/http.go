package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/metrics"
)

// HTTP routes.
const (
	RouteHealth    = "/health"
	RouteListTools = "/mcp/tools/list"
	RouteCallTool  = "/mcp/tools/call"
)

// HeaderRequestID carries the correlation id assigned to each call.
const HeaderRequestID = "X-Request-ID"

// ErrAlreadyStarted is returned by Start on a transport that is serving.
var ErrAlreadyStarted = errors.New("http transport already started")

// HTTPConfig holds HTTP transport configuration.
type HTTPConfig struct {
	Addr string
	// Timeout bounds each call, from arrival to response.
	Timeout time.Duration
	// MaxConnections caps concurrently accepted connections. Zero means no cap.
	MaxConnections int
	MaxBodySize    int64
	EnableCORS     bool
	// EnableCompression gzips responses for clients that accept it.
	EnableCompression bool
}

// DefaultHTTPConfig returns the default HTTP configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Addr:              "127.0.0.1:3000",
		Timeout:           30 * time.Second,
		MaxConnections:    256,
		MaxBodySize:       1 << 20,
		EnableCORS:        false,
		EnableCompression: false,
	}
}

// HTTPTransport serves the HTTP binding. Each HTTP call becomes one request
// handed to ReceiveRequest; the handler then waits for the matching
// SendResponse. There is no server-initiated push.
type HTTPTransport struct {
	cfg     HTTPConfig
	logger  *zap.SugaredLogger
	handler http.Handler

	incoming chan *mcp.RequestMessage

	mu       sync.Mutex
	pending  map[string]chan mcp.Response
	server   *http.Server
	listener net.Listener

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewHTTP creates an HTTP transport. Call Start to listen, or mount the
// transport as an http.Handler.
func NewHTTP(cfg HTTPConfig, logger *zap.SugaredLogger) *HTTPTransport {
	def := DefaultHTTPConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	t := &HTTPTransport{
		cfg:      cfg,
		logger:   logger,
		incoming: make(chan *mcp.RequestMessage),
		pending:  make(map[string]chan mcp.Response),
		done:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RouteHealth, t.handleHealth)
	mux.HandleFunc(RouteListTools, t.handleListTools)
	mux.HandleFunc(RouteCallTool, t.handleCallTool)

	var h http.Handler = t.instrument(mux)
	if cfg.EnableCORS {
		h = withCORS(h)
	}
	if cfg.EnableCompression {
		h = gzhttp.GzipHandler(h)
	}
	t.handler = h

	metrics.SetTransportConnected(KindHTTP, true)
	return t
}

// ServeHTTP implements http.Handler.
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.handler.ServeHTTP(w, r)
}

// Start binds the listener and serves in the background until Close.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return ErrClosed
	}
	if t.server != nil {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.cfg.Addr, err)
	}
	if t.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, t.cfg.MaxConnections)
	}

	t.listener = ln
	t.server = &http.Server{
		Handler:           t.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       t.cfg.Timeout,
		WriteTimeout:      t.cfg.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srv := t.server
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Errorf("HTTP transport error: %v", err)
		}
	}()

	t.logger.Infof("HTTP transport listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once started, or the configured one.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.cfg.Addr
}

// ReceiveRequest returns the next bridged call.
func (t *HTTPTransport) ReceiveRequest(ctx context.Context) (*mcp.RequestMessage, error) {
	select {
	case msg := <-t.incoming:
		return msg, nil
	case <-t.done:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendResponse completes the call waiting on msg.ID. Responses for calls
// that already gave up are dropped.
func (t *HTTPTransport) SendResponse(ctx context.Context, msg *mcp.ResponseMessage) error {
	if t.closed.Load() {
		return ErrClosed
	}
	key := string(msg.ID)

	t.mu.Lock()
	ch, ok := t.pending[key]
	delete(t.pending, key)
	t.mu.Unlock()

	if !ok {
		t.logger.Debugf("Dropping response for abandoned call %s", key)
		return nil
	}
	ch <- msg.Response
	return nil
}

// SendRequest is not supported: the server never pushes to HTTP clients.
func (t *HTTPTransport) SendRequest(context.Context, *mcp.RequestMessage) error {
	return ErrNotSupported
}

// ReceiveResponse is not supported on the server side of the binding.
func (t *HTTPTransport) ReceiveResponse(context.Context) (*mcp.ResponseMessage, error) {
	return nil, ErrNotSupported
}

// Close stops accepting calls, fails the ones in flight and shuts the
// listener down.
func (t *HTTPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		metrics.SetTransportConnected(KindHTTP, false)

		t.mu.Lock()
		srv := t.server
		t.mu.Unlock()
		if srv == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("http shutdown: %w", shutdownErr)
		}
	})
	return err
}

func (t *HTTPTransport) Kind() string { return KindHTTP }

func (t *HTTPTransport) IsConnected() bool { return !t.closed.Load() }

// Metadata describes the transport.
func (t *HTTPTransport) Metadata() map[string]string {
	return map[string]string{
		"transport":     KindHTTP,
		"version":       "1.1",
		"bidirectional": "false",
		"address":       t.Addr(),
	}
}

// AllowsConcurrentRequests is true: every HTTP call is independent.
func (t *HTTPTransport) AllowsConcurrentRequests() bool { return true }

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (t *HTTPTransport) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	t.dispatch(w, r, &mcp.ListToolsRequest{Cursor: r.URL.Query().Get("cursor")})
}

func (t *HTTPTransport) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.cfg.MaxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, mcp.NewInvalidRequest(ErrMessageTooLarge.Error()))
			return
		}
		writeError(w, http.StatusBadRequest, mcp.NewParseError(err.Error()))
		return
	}
	if !json.Valid(body) {
		metrics.RecordDecodeError(KindHTTP, mcp.ErrCodeParse.String())
		writeError(w, http.StatusBadRequest, mcp.NewParseError("request body is not valid JSON"))
		return
	}

	req, err := mcp.DecodeCallTool(body)
	if err != nil {
		var rpcErr *mcp.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = mcp.NewInvalidParams(err.Error())
		}
		metrics.RecordDecodeError(KindHTTP, rpcErr.Code.String())
		writeResponse(w, mcp.Failure(rpcErr))
		return
	}

	t.dispatch(w, r, req)
}

// dispatch bridges one HTTP call into the request stream and writes the
// response once it arrives.
func (t *HTTPTransport) dispatch(w http.ResponseWriter, r *http.Request, req mcp.Request) {
	id := uuid.NewString()
	key := strconv.Quote(id)
	msg := &mcp.RequestMessage{ID: json.RawMessage(key), Request: req}
	reply := make(chan mcp.Response, 1)

	t.mu.Lock()
	t.pending[key] = reply
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}()

	w.Header().Set(HeaderRequestID, id)

	timer := time.NewTimer(t.cfg.Timeout)
	defer timer.Stop()

	select {
	case t.incoming <- msg:
	case <-t.done:
		writeError(w, http.StatusServiceUnavailable, mcp.NewInternalError(ErrClosed.Error()))
		return
	case <-timer.C:
		writeResponse(w, mcp.Failure(mcp.NewTimeout("timed out waiting for server")))
		return
	case <-r.Context().Done():
		return
	}

	select {
	case resp := <-reply:
		writeResponse(w, resp)
	case <-t.done:
		writeError(w, http.StatusServiceUnavailable, mcp.NewInternalError(ErrClosed.Error()))
	case <-timer.C:
		writeResponse(w, mcp.Failure(mcp.NewTimeout("timed out waiting for response")))
	case <-r.Context().Done():
		t.logger.Debugf("Client went away before call %s completed", id)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (t *HTTPTransport) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		switch route {
		case RouteHealth, RouteListTools, RouteCallTool:
		default:
			route = "other"
		}
		metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderRequestID)
		w.Header().Set("Access-Control-Expose-Headers", HeaderRequestID)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error *mcp.Error `json:"error"`
}

// writeResponse writes a result as the bare body and an error as
// {"error":{...}}, both with status 200.
func writeResponse(w http.ResponseWriter, resp mcp.Response) {
	if resp.Error != nil {
		writeError(w, http.StatusOK, resp.Error)
		return
	}
	data, err := mcp.EncodeResult(resp.Result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, mcp.NewInternalError(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, rpcErr *mcp.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: rpcErr})
}
