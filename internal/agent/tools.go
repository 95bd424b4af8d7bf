package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/agentspawn/internal/provider"
)

// ErrToolNotFound is returned when a tool name is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ToolHandler executes a tool call and returns the result as a string.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// ToolStats counts how a tool has been used since startup.
type ToolStats struct {
	Name     string    `json:"name"`
	Calls    int       `json:"calls"`
	Failures int       `json:"failures"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

type toolEntry struct {
	def     provider.Tool
	handler ToolHandler
	stats   ToolStats
}

// ToolRegistry holds the side-effecting operations specialists may call.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*toolEntry
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*toolEntry)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(def provider.Tool, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = &toolEntry{def: def, handler: handler, stats: ToolStats{Name: def.Name}}
}

// Definitions returns tool definitions sorted by name. With names given,
// only matching tools are returned; unknown names are skipped.
func (r *ToolRegistry) Definitions(names ...string) []provider.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []provider.Tool
	if len(names) == 0 {
		for _, e := range r.tools {
			out = append(out, e.def)
		}
	} else {
		seen := make(map[string]bool)
		for _, n := range names {
			for name, e := range r.tools {
				if !seen[name] && toolMatches(n, name) {
					seen[name] = true
					out = append(out, e.def)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// toolMatches reports whether pattern selects name. A trailing "*" matches
// by prefix, which is how templates select every tool of an MCP server.
func toolMatches(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// Execute runs a tool by name and records its usage.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	out, err := e.handler(ctx, args)

	r.mu.Lock()
	e.stats.Calls++
	e.stats.LastUsed = time.Now()
	if err != nil {
		e.stats.Failures++
	}
	r.mu.Unlock()
	return out, err
}

// Stats returns usage counters for every tool, sorted by name.
func (r *ToolRegistry) Stats() []ToolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolStats, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
