package server

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jarsater/toolrpc/internal/admission"
	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/registry"
)

// ErrInvalidConfig is returned by Build for out-of-range options.
var ErrInvalidConfig = errors.New("invalid server config")

// Config holds server configuration.
type Config struct {
	Name          string
	Version       string
	EnableTracing bool
	// MaxConcurrentRequests is the number of admission slots.
	MaxConcurrentRequests int
	// MaxQueuedRequests bounds requests waiting for a slot. Zero means unbounded.
	MaxQueuedRequests int
	// RequestTimeout bounds both the wait for a slot and the tool call.
	RequestTimeout time.Duration
	// ShutdownTimeout bounds how long Stop waits for in-flight requests.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Name:                  "mcp-server",
		Version:               "0.1.0",
		EnableTracing:         false,
		MaxConcurrentRequests: 10,
		MaxQueuedRequests:     0,
		RequestTimeout:        30 * time.Second,
		ShutdownTimeout:       30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name must not be empty", ErrInvalidConfig)
	case c.MaxConcurrentRequests <= 0:
		return fmt.Errorf("%w: maxConcurrentRequests must be > 0, got %d", ErrInvalidConfig, c.MaxConcurrentRequests)
	case c.MaxQueuedRequests < 0:
		return fmt.Errorf("%w: maxQueuedRequests must be >= 0, got %d", ErrInvalidConfig, c.MaxQueuedRequests)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: requestTimeout must be > 0", ErrInvalidConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdownTimeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Builder configures a Server.
type Builder struct {
	cfg    Config
	tools  []mcp.Tool
	logger *zap.SugaredLogger
}

// NewBuilder returns a builder holding the default configuration.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

func (b *Builder) WithName(name string) *Builder {
	b.cfg.Name = name
	return b
}

func (b *Builder) WithVersion(version string) *Builder {
	b.cfg.Version = version
	return b
}

func (b *Builder) WithTool(tool mcp.Tool) *Builder {
	b.tools = append(b.tools, tool)
	return b
}

func (b *Builder) WithTools(tools ...mcp.Tool) *Builder {
	b.tools = append(b.tools, tools...)
	return b
}

// EnableTracing logs every dispatched request at info level.
func (b *Builder) EnableTracing(enabled bool) *Builder {
	b.cfg.EnableTracing = enabled
	return b
}

func (b *Builder) MaxConcurrentRequests(n int) *Builder {
	b.cfg.MaxConcurrentRequests = n
	return b
}

func (b *Builder) MaxQueuedRequests(n int) *Builder {
	b.cfg.MaxQueuedRequests = n
	return b
}

func (b *Builder) RequestTimeout(d time.Duration) *Builder {
	b.cfg.RequestTimeout = d
	return b
}

func (b *Builder) ShutdownTimeout(d time.Duration) *Builder {
	b.cfg.ShutdownTimeout = d
	return b
}

func (b *Builder) WithLogger(logger *zap.SugaredLogger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, registers the tools and returns a
// server in the Created state.
func (b *Builder) Build() (*Server, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	reg := registry.New()
	if err := reg.RegisterAll(b.tools...); err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		cfg:      b.cfg,
		logger:   logger,
		registry: reg,
		limiter: admission.New(b.cfg.Name, admission.Config{
			MaxConcurrent: int64(b.cfg.MaxConcurrentRequests),
			MaxQueueSize:  int64(b.cfg.MaxQueuedRequests),
			WaitTimeout:   b.cfg.RequestTimeout,
		}),
		state: StateCreated,
	}
	s.tracing.Store(b.cfg.EnableTracing)
	return s, nil
}
