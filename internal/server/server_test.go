package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/registry"
	"github.com/jarsater/toolrpc/internal/tools"
)

func newTestServer(t *testing.T, b *Builder) *Server {
	t.Helper()
	s, err := b.WithLogger(zaptest.NewLogger(t).Sugar()).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return s
}

func startedServer(t *testing.T, b *Builder) *Server {
	t.Helper()
	s := newTestServer(t, b)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func funcTool(name string, fn mcp.HandlerFunc) mcp.Tool {
	return mcp.NewFuncTool(name, "test tool "+name, nil, fn)
}

// waitForActive blocks until n requests hold admission slots.
func waitForActive(t *testing.T, s *Server, n int64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for s.limiter.Stats().Active != n {
		if time.Now().After(deadline) {
			t.Fatalf("active requests = %d, want %d", s.limiter.Stats().Active, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func wantErrorCode(t *testing.T, resp mcp.Response, code mcp.ErrorCode) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("response = %#v, want error code %d", resp.Result, code)
	}
	if resp.Error.Code != code {
		t.Fatalf("error = %v, want code %d", resp.Error, code)
	}
}

func TestBuilderDefaults(t *testing.T) {
	s := newTestServer(t, NewBuilder())
	if s.cfg != DefaultConfig() {
		t.Errorf("config = %+v, want %+v", s.cfg, DefaultConfig())
	}
	if s.Name() != "mcp-server" || s.Version() != "0.1.0" {
		t.Errorf("name/version = %s/%s", s.Name(), s.Version())
	}
	if s.State() != StateCreated {
		t.Errorf("State() = %s, want created", s.State())
	}
}

func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
	}{
		{"zero concurrency", NewBuilder().MaxConcurrentRequests(0)},
		{"negative queue", NewBuilder().MaxQueuedRequests(-1)},
		{"zero timeout", NewBuilder().RequestTimeout(0)},
		{"zero shutdown timeout", NewBuilder().ShutdownTimeout(0)},
		{"empty name", NewBuilder().WithName("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Build() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestBuilderRejectsDuplicateTools(t *testing.T) {
	_, err := NewBuilder().WithTools(tools.NewEcho(), tools.NewEcho()).Build()
	if !errors.Is(err, registry.ErrDuplicateTool) {
		t.Errorf("Build() error = %v, want ErrDuplicateTool", err)
	}
}

func TestLifecycle(t *testing.T) {
	s := newTestServer(t, NewBuilder())
	ctx := context.Background()

	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop() on created server error = %v, want ErrNotRunning", err)
	}
	if s.State() != StateCreated {
		t.Errorf("State() after failed Stop = %s, want created", s.State())
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() || s.State() != StateStopped {
		t.Fatalf("State() after Stop = %s, want stopped", s.State())
	}
	if s.Uptime() != 0 {
		t.Errorf("Uptime() after Stop = %v, want 0", s.Uptime())
	}
	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop() on stopped server error = %v, want ErrNotRunning", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after restart")
	}
	_ = s.Stop(ctx)
}

// Stop must not hold the state lock while shutdown reads state.
func TestStopDoesNotDeadlock(t *testing.T) {
	s := newTestServer(t, NewBuilder().WithTool(tools.NewEcho()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- s.Stop(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("Stop() took %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return within 1s")
	}
}

func TestConcurrentStartStop(t *testing.T) {
	s := newTestServer(t, NewBuilder())
	ctx := context.Background()

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Start(ctx) == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	if started.Load() != 1 {
		t.Fatalf("%d concurrent Starts succeeded, want 1", started.Load())
	}

	var stopped atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Stop(ctx) == nil {
				stopped.Add(1)
			}
		}()
	}
	wg.Wait()
	if stopped.Load() != 1 {
		t.Fatalf("%d concurrent Stops succeeded, want 1", stopped.Load())
	}
}

func TestHandleRequestWhenNotRunning(t *testing.T) {
	s := newTestServer(t, NewBuilder().WithTool(tools.NewEcho()))

	resp := s.HandleRequest(context.Background(), &mcp.PingRequest{})
	wantErrorCode(t, resp, mcp.ErrCodeInternal)
	if resp.Error.Message != "server not running" {
		t.Errorf("message = %q, want %q", resp.Error.Message, "server not running")
	}
}

func TestHandleDirectRequests(t *testing.T) {
	s := startedServer(t, NewBuilder().WithName("test-server").WithVersion("9.9.9").WithTools(tools.Builtin()...))
	ctx := context.Background()

	resp := s.HandleRequest(ctx, &mcp.PingRequest{})
	if _, ok := resp.Result.(*mcp.Pong); !ok {
		t.Errorf("ping result = %#v, want Pong", resp.Result)
	}

	resp = s.HandleRequest(ctx, &mcp.ListToolsRequest{})
	list, ok := resp.Result.(*mcp.ToolList)
	if !ok {
		t.Fatalf("tools/list result = %#v", resp.Result)
	}
	if len(list.Tools) != 3 {
		t.Fatalf("got %d tools, want 3", len(list.Tools))
	}
	for _, d := range list.Tools {
		if d.Name == "" || d.Description == "" {
			t.Errorf("descriptor %+v has empty name or description", d)
		}
		if d.InputSchema["type"] != "object" {
			t.Errorf("descriptor %s schema type = %v, want object", d.Name, d.InputSchema["type"])
		}
	}

	resp = s.HandleRequest(ctx, &mcp.InitializeRequest{
		ProtocolVersion: "1999-01-01",
		ClientInfo:      mcp.Implementation{Name: "client", Version: "1"},
	})
	ack, ok := resp.Result.(*mcp.InitializeAck)
	if !ok {
		t.Fatalf("initialize result = %#v", resp.Result)
	}
	if ack.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Errorf("protocolVersion = %s, want %s", ack.ProtocolVersion, mcp.LatestProtocolVersion)
	}
	if ack.ServerInfo.Name != "test-server" || ack.ServerInfo.Version != "9.9.9" {
		t.Errorf("serverInfo = %+v", ack.ServerInfo)
	}
	if ack.Capabilities.Tools == nil {
		t.Error("capabilities.tools not advertised")
	}

	resp = s.HandleRequest(ctx, &mcp.InitializedNotification{})
	if resp.IsError() {
		t.Errorf("initialized error = %v", resp.Error)
	}
}

func TestCallTool(t *testing.T) {
	boom := errors.New("boom")
	s := startedServer(t, NewBuilder().RequestTimeout(100*time.Millisecond).WithTools(
		tools.NewEcho(),
		funcTool("fails", func(context.Context, *mcp.CallToolRequest) (mcp.Response, error) {
			return mcp.Response{}, fmt.Errorf("backend: %w", boom)
		}),
		funcTool("denied", func(context.Context, *mcp.CallToolRequest) (mcp.Response, error) {
			return mcp.Response{}, mcp.NewError(mcp.ErrCodePermissionDenied, "nope").WithData("secret")
		}),
		funcTool("reports", func(context.Context, *mcp.CallToolRequest) (mcp.Response, error) {
			return mcp.Failure(mcp.NewError(mcp.ErrCodeUpstream, "upstream down")), nil
		}),
		funcTool("empty", func(context.Context, *mcp.CallToolRequest) (mcp.Response, error) {
			return mcp.Response{}, nil
		}),
		funcTool("panics", func(context.Context, *mcp.CallToolRequest) (mcp.Response, error) {
			panic("kaboom")
		}),
		funcTool("slow", func(ctx context.Context, _ *mcp.CallToolRequest) (mcp.Response, error) {
			<-ctx.Done()
			return mcp.Response{}, ctx.Err()
		}),
		funcTool("stubborn", func(context.Context, *mcp.CallToolRequest) (mcp.Response, error) {
			time.Sleep(time.Second)
			return mcp.Success(mcp.TextResult("too late")), nil
		}),
	))

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantCode mcp.ErrorCode
		wantText string
	}{
		{"echo", "echo", map[string]any{"message": "hi"}, 0, "hi"},
		{"missing tool", "missing", nil, mcp.ErrCodeMethodNotFound, ""},
		{"plain error becomes tool error", "fails", nil, mcp.ErrCodeTool, ""},
		{"structured error passes through", "denied", nil, mcp.ErrCodePermissionDenied, ""},
		{"error response passes through", "reports", nil, mcp.ErrCodeUpstream, ""},
		{"empty response", "empty", nil, mcp.ErrCodeInternal, ""},
		{"panic becomes internal error", "panics", nil, mcp.ErrCodeInternal, ""},
		{"cooperative timeout", "slow", nil, mcp.ErrCodeTimeout, ""},
		{"abandoned timeout", "stubborn", nil, mcp.ErrCodeTimeout, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			resp := s.HandleRequest(context.Background(), mcp.NewCallToolRequest(tt.tool, tt.args))
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Errorf("call took %v, want it bounded by the request timeout", elapsed)
			}

			if tt.wantCode != 0 {
				wantErrorCode(t, resp, tt.wantCode)
				return
			}
			if resp.IsError() {
				t.Fatalf("unexpected error %v", resp.Error)
			}
			text := resp.Result.(*mcp.ToolResult).Content[0].(*mcp.TextContent).Text
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}

	t.Run("missing tool names the tool", func(t *testing.T) {
		resp := s.HandleRequest(context.Background(), mcp.NewCallToolRequest("missing", nil))
		if resp.Error.Data != "missing" {
			t.Errorf("error data = %v, want missing", resp.Error.Data)
		}
	})

	t.Run("structured error keeps data", func(t *testing.T) {
		resp := s.HandleRequest(context.Background(), mcp.NewCallToolRequest("denied", nil))
		if resp.Error.Data != "secret" {
			t.Errorf("error data = %v, want secret", resp.Error.Data)
		}
	})

	t.Run("server survives a panic", func(t *testing.T) {
		_ = s.HandleRequest(context.Background(), mcp.NewCallToolRequest("panics", nil))
		resp := s.HandleRequest(context.Background(), mcp.NewCallToolRequest("echo", map[string]any{"message": "still here"}))
		if resp.IsError() {
			t.Errorf("echo after panic error = %v", resp.Error)
		}
	})
}

func TestAdmissionNeverExceedsLimit(t *testing.T) {
	const limit = 2
	var current, peak atomic.Int32

	s := startedServer(t, NewBuilder().MaxConcurrentRequests(limit).RequestTimeout(2*time.Second).WithTool(
		funcTool("busy", func(ctx context.Context, _ *mcp.CallToolRequest) (mcp.Response, error) {
			n := current.Add(1)
			defer current.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			return mcp.Success(mcp.TextResult("done")), nil
		}),
	))

	var wg sync.WaitGroup
	responses := make([]mcp.Response, 8)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = s.HandleRequest(context.Background(), mcp.NewCallToolRequest("busy", nil))
		}(i)
	}
	wg.Wait()

	for i, resp := range responses {
		if resp.IsError() {
			t.Errorf("response %d error = %v", i, resp.Error)
		}
	}
	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrency = %d, want <= %d", p, limit)
	}
}

func TestAdmissionOverflowQueuesOrTimesOut(t *testing.T) {
	release := make(chan struct{})
	s := startedServer(t, NewBuilder().MaxConcurrentRequests(1).RequestTimeout(80*time.Millisecond).WithTool(
		funcTool("block", func(ctx context.Context, _ *mcp.CallToolRequest) (mcp.Response, error) {
			select {
			case <-release:
				return mcp.Success(mcp.TextResult("released")), nil
			case <-ctx.Done():
				return mcp.Response{}, ctx.Err()
			}
		}),
	))
	defer close(release)

	var wg sync.WaitGroup
	responses := make([]mcp.Response, 4)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = s.HandleRequest(context.Background(), mcp.NewCallToolRequest("block", nil))
		}(i)
	}
	wg.Wait()

	for i, resp := range responses {
		if !resp.IsError() || resp.Error.Code != mcp.ErrCodeTimeout {
			t.Errorf("response %d = %+v, want a timeout", i, resp)
		}
	}
	if st := s.limiter.Stats(); st.Active != 0 || st.Waiting != 0 {
		t.Errorf("limiter not drained: %+v", st)
	}
}

func TestAdmissionQueueFull(t *testing.T) {
	release := make(chan struct{})
	s := startedServer(t, NewBuilder().MaxConcurrentRequests(1).MaxQueuedRequests(1).RequestTimeout(time.Second).WithTool(
		funcTool("block", func(ctx context.Context, _ *mcp.CallToolRequest) (mcp.Response, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return mcp.Success(mcp.TextResult("ok")), nil
		}),
	))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.HandleRequest(context.Background(), mcp.NewCallToolRequest("block", nil))
		}()
	}

	deadline := time.Now().Add(time.Second)
	for (s.limiter.Stats().Active != 1 || s.limiter.Stats().Waiting != 1) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	resp := s.HandleRequest(context.Background(), mcp.NewCallToolRequest("block", nil))
	wantErrorCode(t, resp, mcp.ErrCodeServerOverloaded)

	close(release)
	wg.Wait()
}

func TestStopDrainsInFlightRequests(t *testing.T) {
	s := newTestServer(t, NewBuilder().WithTool(tools.NewWait()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	result := make(chan mcp.Response, 1)
	go func() {
		result <- s.HandleRequest(context.Background(), mcp.NewCallToolRequest("wait", map[string]any{"ms": float64(100)}))
	}()

	waitForActive(t, s, 1)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case resp := <-result:
		if resp.IsError() {
			t.Errorf("in-flight request error = %v", resp.Error)
		}
	default:
		t.Error("Stop() returned before the in-flight request finished")
	}
}

func TestStopGivesUpAfterShutdownTimeout(t *testing.T) {
	s := newTestServer(t, NewBuilder().ShutdownTimeout(50*time.Millisecond).WithTool(tools.NewWait()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		s.HandleRequest(context.Background(), mcp.NewCallToolRequest("wait", map[string]any{"ms": float64(500)}))
	}()
	waitForActive(t, s, 1)

	start := time.Now()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("Stop() took %v, want about the shutdown timeout", elapsed)
	}
	<-finished
}

func TestStats(t *testing.T) {
	s := startedServer(t, NewBuilder().WithTools(tools.Builtin()...))
	ctx := context.Background()

	s.HandleRequest(ctx, mcp.NewCallToolRequest("echo", map[string]any{"message": "a"}))
	s.HandleRequest(ctx, mcp.NewCallToolRequest("missing", nil))
	s.HandleRequest(ctx, &mcp.PingRequest{})

	st := s.Stats()
	if st.ToolCount != 3 {
		t.Errorf("ToolCount = %d, want 3", st.ToolCount)
	}
	if st.RequestCount != 3 {
		t.Errorf("RequestCount = %d, want 3", st.RequestCount)
	}
	if st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", st.ErrorCount)
	}
	if st.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", st.InFlight)
	}
	if st.State != StateRunning || st.Uptime <= 0 {
		t.Errorf("State/Uptime = %s/%v", st.State, st.Uptime)
	}
}

func TestRegistryFrozenAfterStart(t *testing.T) {
	s := startedServer(t, NewBuilder().WithTool(tools.NewEcho()))
	if err := s.Registry().Register(tools.NewUUID()); !errors.Is(err, registry.ErrFrozen) {
		t.Errorf("Register after Start error = %v, want ErrFrozen", err)
	}
}

func TestSetTracing(t *testing.T) {
	s := startedServer(t, NewBuilder().EnableTracing(true).WithTool(tools.NewEcho()))
	if !s.tracing.Load() {
		t.Fatal("tracing not enabled by builder")
	}
	s.HandleRequest(context.Background(), mcp.NewCallToolRequest("echo", map[string]any{"message": "traced"}))
	s.SetTracing(false)
	if s.tracing.Load() {
		t.Error("SetTracing(false) did not disable tracing")
	}
}
