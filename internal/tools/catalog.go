// Package tools contains the built-in example tools and the filter that
// selects which of them a server exposes.
package tools

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jarsater/toolrpc/internal/mcp"
)

// Builtin returns every built-in tool.
func Builtin() []mcp.Tool {
	return []mcp.Tool{
		NewEcho(),
		NewWait(),
		NewUUID(),
	}
}

// Select keeps the tools whose names match at least one glob pattern.
// An empty pattern list keeps everything.
func Select(all []mcp.Tool, patterns []string) ([]mcp.Tool, error) {
	if len(patterns) == 0 {
		return all, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid tool pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}

	var out []mcp.Tool
	for _, t := range all {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, t.Name()); ok {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}
