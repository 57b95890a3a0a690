package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jarsater/toolrpc/internal/admission"
	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/metrics"
)

// HandleRequest dispatches one request and always returns a response.
func (s *Server) HandleRequest(ctx context.Context, req mcp.Request) mcp.Response {
	start := time.Now()
	resp := s.handle(ctx, req)
	s.record(req, resp, time.Since(start))
	return resp
}

func (s *Server) handle(ctx context.Context, req mcp.Request) mcp.Response {
	// Counted before the state check so Stop's drain cannot miss a request
	// that is being admitted.
	metrics.SetInFlight(s.inFlight.Add(1))
	defer func() { metrics.SetInFlight(s.inFlight.Add(-1)) }()

	if !s.acceptingRequests() {
		return mcp.Failure(mcp.NewInternalError("server not running"))
	}
	if req == nil {
		return mcp.Failure(mcp.NewInvalidRequest("empty request"))
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return mcp.Failure(admissionError(err))
	}
	defer s.limiter.Release()

	switch r := req.(type) {
	case *mcp.CallToolRequest:
		return s.callTool(ctx, r)
	case *mcp.ListToolsRequest:
		return mcp.Success(&mcp.ToolList{Tools: s.registry.List()})
	case *mcp.PingRequest:
		return mcp.Success(&mcp.Pong{})
	case *mcp.InitializeRequest:
		s.logger.Infof("Client %s %s initializing (protocol %s)", r.ClientInfo.Name, r.ClientInfo.Version, r.ProtocolVersion)
		return mcp.Success(&mcp.InitializeAck{
			ProtocolVersion: mcp.NegotiateProtocolVersion(r.ProtocolVersion),
			Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}},
			ServerInfo:      mcp.Implementation{Name: s.cfg.Name, Version: s.cfg.Version},
		})
	case *mcp.InitializedNotification:
		s.logger.Debug("Client initialized")
		return mcp.Success(&mcp.Pong{})
	default:
		return mcp.Failure(mcp.NewMethodNotFound(req.Method()))
	}
}

func admissionError(err error) *mcp.Error {
	switch {
	case errors.Is(err, admission.ErrQueueFull):
		return mcp.NewServerOverloaded("too many queued requests")
	case errors.Is(err, admission.ErrTimeout):
		return mcp.NewTimeout("timed out waiting for a free request slot")
	default:
		return mcp.NewTimeout(fmt.Sprintf("request abandoned while waiting for a slot: %v", err))
	}
}

type toolOutcome struct {
	resp mcp.Response
	err  error
}

// callTool runs the tool in its own goroutine under a fresh request timeout.
// On timeout the goroutine is abandoned and its result discarded.
func (s *Server) callTool(ctx context.Context, req *mcp.CallToolRequest) mcp.Response {
	tool, ok := s.registry.Lookup(req.Name)
	if !ok {
		metrics.RecordToolCall(req.Name, "not_found")
		return mcp.Failure(mcp.NewMethodNotFound(req.Name))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	done := make(chan toolOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Errorf("Tool %s panicked: %v\n%s", req.Name, p, debug.Stack())
				done <- toolOutcome{err: errToolPanic{value: p}}
			}
		}()
		resp, err := tool.Call(callCtx, req)
		done <- toolOutcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		// A tool that returns the context error has timed out, not failed.
		if out.err != nil && callCtx.Err() != nil && errors.Is(out.err, callCtx.Err()) {
			return s.toolTimeout(req.Name)
		}
		return s.toolResponse(req.Name, out)
	case <-callCtx.Done():
		return s.toolTimeout(req.Name)
	}
}

func (s *Server) toolTimeout(name string) mcp.Response {
	metrics.RecordToolCall(name, "timeout")
	s.logger.Warnf("Tool %s timed out after %s", name, s.cfg.RequestTimeout)
	return mcp.Failure(mcp.NewTimeout(fmt.Sprintf("tool %s timed out after %s", name, s.cfg.RequestTimeout)))
}

type errToolPanic struct {
	value any
}

func (e errToolPanic) Error() string {
	return fmt.Sprintf("tool panicked: %v", e.value)
}

func (s *Server) toolResponse(name string, out toolOutcome) mcp.Response {
	if out.err != nil {
		var panicErr errToolPanic
		if errors.As(out.err, &panicErr) {
			metrics.RecordToolCall(name, "panic")
			return mcp.Failure(mcp.NewInternalError(fmt.Sprintf("tool %s failed unexpectedly", name)))
		}

		metrics.RecordToolCall(name, "error")
		var rpcErr *mcp.Error
		if errors.As(out.err, &rpcErr) {
			return mcp.Failure(rpcErr)
		}
		return mcp.Failure(mcp.NewToolError(out.err.Error()))
	}

	switch {
	case out.resp.Error != nil:
		metrics.RecordToolCall(name, "error")
		return out.resp
	case out.resp.Result == nil:
		metrics.RecordToolCall(name, "error")
		s.logger.Errorf("Tool %s returned an empty response", name)
		return mcp.Failure(mcp.NewInternalError(fmt.Sprintf("tool %s returned an empty response", name)))
	default:
		metrics.RecordToolCall(name, "success")
		return out.resp
	}
}

func (s *Server) record(req mcp.Request, resp mcp.Response, elapsed time.Duration) {
	method := "unknown"
	if req != nil {
		method = req.Method()
	}

	s.requestCount.Add(1)
	outcome := "success"
	if resp.IsError() {
		outcome = "error"
		s.errorCount.Add(1)
		metrics.RecordRequestError(resp.Error.Code.String())
	}
	metrics.RecordRequest(method, outcome, elapsed.Seconds())

	if !s.tracing.Load() {
		return
	}
	if call, ok := req.(*mcp.CallToolRequest); ok {
		method += " " + call.Name
	}
	if resp.IsError() {
		s.logger.Infof("%s failed in %s: %v", method, elapsed, resp.Error)
	} else {
		s.logger.Infof("%s completed in %s", method, elapsed)
	}
}
