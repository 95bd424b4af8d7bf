// Package registry holds the specialist templates known to the process.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a template does not exist.
var ErrNotFound = errors.New("agent template not found")

// AgentType identifies a specialist kind. The set is open: new types can be
// registered at runtime.
type AgentType string

const (
	DataAnalyst   AgentType = "data_analyst"
	Researcher    AgentType = "researcher"
	CodeGenerator AgentType = "code_generator"
	General       AgentType = "general"
)

// Template is the immutable description of a specialist type.
type Template struct {
	Type         AgentType     `json:"agent_type" yaml:"agent_type"`
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description" yaml:"description"`
	SystemPrompt string        `json:"system_prompt" yaml:"system_prompt"`
	Capabilities []string      `json:"capabilities" yaml:"capabilities"`
	Triggers     []string      `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Tools        []string      `json:"tools,omitempty" yaml:"tools,omitempty"`
	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HasCapability reports whether the template advertises tag.
func (t Template) HasCapability(tag string) bool {
	for _, c := range t.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Validate checks the fields every template must carry.
func (t Template) Validate() error {
	if t.Type == "" {
		return errors.New("agent_type is required")
	}
	if t.Name == "" {
		return fmt.Errorf("template %s: name is required", t.Type)
	}
	return nil
}

func (t Template) clone() Template {
	c := t
	c.Capabilities = cloneStrings(t.Capabilities)
	c.Triggers = cloneStrings(t.Triggers)
	c.Tools = cloneStrings(t.Tools)
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Registry is a concurrency-safe map of templates. Reads may run in
// parallel; registration is serialized against them.
type Registry struct {
	mu        sync.RWMutex
	templates map[AgentType]Template
}

// New returns a registry pre-populated with the built-in templates.
func New() *Registry {
	r := NewEmpty()
	for _, t := range Builtins() {
		r.templates[t.Type] = t.clone()
	}
	return r
}

// NewEmpty returns a registry with no templates.
func NewEmpty() *Registry {
	return &Registry{templates: make(map[AgentType]Template)}
}

// Register adds or replaces the template for t.Type. Last write wins.
func (r *Registry) Register(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Type] = t.clone()
	return nil
}

// Get returns a copy of the template for agentType.
func (r *Registry) Get(agentType AgentType) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[agentType]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, agentType)
	}
	return t.clone(), nil
}

// Has reports whether agentType is registered.
func (r *Registry) Has(agentType AgentType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[agentType]
	return ok
}

// List returns all templates sorted by type.
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ByCapability returns every template advertising tag, sorted by type.
// This is a linear scan over all registered templates.
func (r *Registry) ByCapability(tag string) []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Template
	for _, t := range r.templates {
		if t.HasCapability(tag) {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Triggers returns the selector trigger words declared by each template.
func (r *Registry) Triggers() map[AgentType][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[AgentType][]string)
	for at, t := range r.templates {
		if len(t.Triggers) > 0 {
			out[at] = cloneStrings(t.Triggers)
		}
	}
	return out
}
