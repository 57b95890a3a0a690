// Package server dispatches protocol requests to registered tools.
package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jarsater/toolrpc/internal/admission"
	"github.com/jarsater/toolrpc/internal/metrics"
	"github.com/jarsater/toolrpc/internal/registry"
)

var (
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop on a server that is not running.
	ErrNotRunning = errors.New("server not running")
)

// State is a lifecycle state.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const drainPollInterval = 10 * time.Millisecond

// Server owns the tool registry, the admission limiter and the lifecycle
// state. It is safe for concurrent use.
//
// mu guards state, startTime and the transition flags. It is only ever held
// for short synchronous sections, never across initialize or shutdown.
type Server struct {
	cfg      Config
	logger   *zap.SugaredLogger
	registry *registry.Registry
	limiter  *admission.Limiter

	mu        sync.RWMutex
	state     State
	startTime time.Time
	starting  bool
	draining  bool

	tracing      atomic.Bool
	requestCount atomic.Int64
	errorCount   atomic.Int64
	inFlight     atomic.Int64
}

// Start moves the server to Running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.starting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.starting = true
	s.mu.Unlock()

	err := s.initialize(ctx)

	s.mu.Lock()
	s.starting = false
	if err == nil {
		s.state = StateRunning
		s.startTime = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	metrics.SetServerRunning(s.cfg.Name, true)
	s.logger.Infof("Server %s %s started with %d tools", s.cfg.Name, s.cfg.Version, s.registry.Count())
	return nil
}

func (s *Server) initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.registry.Freeze()

	warnings, err := s.registry.Validate()
	for _, w := range warnings {
		s.logger.Warnf("Tool validation: %s", w)
	}
	if err != nil {
		return err
	}

	metrics.SetToolsRegistered(s.cfg.Name, s.registry.Count())
	return nil
}

// Stop waits for in-flight requests, bounded by the shutdown timeout and
// ctx, then moves the server to Stopped.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning || s.draining {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.draining = true
	s.mu.Unlock()

	s.shutdown(ctx)

	s.mu.Lock()
	s.state = StateStopped
	s.startTime = time.Time{}
	s.draining = false
	s.mu.Unlock()

	metrics.SetServerRunning(s.cfg.Name, false)
	s.logger.Infof("Server %s stopped", s.cfg.Name)
	return nil
}

// shutdown reads state through the shared lock, so the caller must not
// hold mu.
func (s *Server) shutdown(ctx context.Context) {
	s.logger.Infof("Shutting down after %s, %d requests in flight", s.Uptime().Round(time.Millisecond), s.inFlight.Load())

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for s.inFlight.Load() > 0 {
		select {
		case <-ticker.C:
		case <-timer.C:
			s.logger.Warnf("Shutdown timeout reached, abandoning %d requests", s.inFlight.Load())
			return
		case <-ctx.Done():
			s.logger.Warnf("Shutdown interrupted, abandoning %d requests: %v", s.inFlight.Load(), ctx.Err())
			return
		}
	}
}

// IsRunning reports whether the server accepts requests.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Uptime returns the time since Start, or zero when not running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning {
		return 0
	}
	return time.Since(s.startTime)
}

func (s *Server) acceptingRequests() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning && !s.draining
}

// Name returns the configured server name.
func (s *Server) Name() string { return s.cfg.Name }

// Version returns the configured server version.
func (s *Server) Version() string { return s.cfg.Version }

// Registry returns the server's tool registry.
func (s *Server) Registry() *registry.Registry { return s.registry }

// SetTracing toggles per-request logging at runtime.
func (s *Server) SetTracing(enabled bool) {
	if s.tracing.Swap(enabled) != enabled {
		s.logger.Infof("Request tracing set to %v", enabled)
	}
}

// Stats is a point-in-time view of the server counters.
type Stats struct {
	Name         string
	Version      string
	State        State
	ToolCount    int
	RequestCount int64
	ErrorCount   int64
	InFlight     int64
	Uptime       time.Duration
}

// Stats returns the current counters. It never blocks dispatch.
func (s *Server) Stats() Stats {
	return Stats{
		Name:         s.cfg.Name,
		Version:      s.cfg.Version,
		State:        s.State(),
		ToolCount:    s.registry.Count(),
		RequestCount: s.requestCount.Load(),
		ErrorCount:   s.errorCount.Load(),
		InFlight:     s.inFlight.Load(),
		Uptime:       s.Uptime(),
	}
}
