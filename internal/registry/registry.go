// Package registry holds the set of tools a server exposes.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jarsater/toolrpc/internal/mcp"
)

var (
	// ErrDuplicateTool is returned when a tool name is already registered.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrInvalidTool is returned for a nil tool or a tool with an empty name.
	ErrInvalidTool = errors.New("invalid tool")
	// ErrFrozen is returned when registering after the registry was frozen.
	ErrFrozen = errors.New("registry is frozen")
)

// Registry is a name-keyed, insertion-ordered collection of tools.
//
// Registration is a single-writer phase. Once Freeze is called the registry
// is immutable and reads proceed without locking.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool
	order  []mcp.Tool
	byName map[string]mcp.Tool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]mcp.Tool)}
}

// Register adds a tool. It fails without modifying the registry if the name
// is empty, already taken, or the registry is frozen.
func (r *Registry) Register(tool mcp.Tool) error {
	if tool == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("register %s: %w", name, ErrFrozen)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("register %s: %w", name, ErrDuplicateTool)
	}

	r.byName[name] = tool
	r.order = append(r.order, tool)
	return nil
}

// RegisterAll registers tools in order and stops at the first failure.
// Tools registered before the failure stay registered.
func (r *Registry) RegisterAll(tools ...mcp.Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Freeze makes the registry read-only. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (mcp.Tool, bool) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	t, ok := r.byName[name]
	return t, ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []mcp.ToolDescriptor {
	tools := r.Tools()
	out := make([]mcp.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, mcp.Describe(t))
	}
	return out
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []mcp.Tool {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	out := make([]mcp.Tool, len(r.order))
	copy(out, r.order)
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	tools := r.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.order)
}
