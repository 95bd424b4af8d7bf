// Package selector maps task text and keywords to the specialist types a
// task warrants.
package selector

import (
	"sort"
	"strings"

	"github.com/nidhogg/agentspawn/internal/classifier"
	"github.com/nidhogg/agentspawn/internal/registry"
)

var defaultTriggers = map[registry.AgentType][]string{
	registry.DataAnalyst: {
		"data", "analyze", "statistics", "trend", "pattern", "metric", "performance",
		"dataset", "aggregate", "query", "excel", "csv", "database", "sql",
	},
	registry.Researcher: {
		"research", "investigate", "study", "explore", "background", "literature",
		"evidence", "sources", "information", "find", "discover", "web", "article",
		"documentation",
	},
	registry.CodeGenerator: {
		"code", "write", "implement", "function", "class", "script", "program",
		"develop", "build", "python", "javascript", "java", "c++", "algorithm", "library",
	},
}

// ComplexDefaults is unioned into every COMPLEX selection.
var ComplexDefaults = []registry.AgentType{registry.DataAnalyst, registry.Researcher}

var builtinOrder = []registry.AgentType{
	registry.DataAnalyst, registry.Researcher, registry.CodeGenerator, registry.General,
}

// TemplateSource supplies extra trigger words declared by registered
// templates. *registry.Registry satisfies it.
type TemplateSource interface {
	Triggers() map[registry.AgentType][]string
}

// Selector detects required specialists. It holds no mutable state.
type Selector struct {
	templates TemplateSource
}

// New creates a Selector. templates may be nil.
func New(templates TemplateSource) *Selector {
	return &Selector{templates: templates}
}

// DetectRequired returns the specialist types for a task, in a stable order.
// SIMPLE tasks never get specialists; COMPLEX tasks always include
// ComplexDefaults.
func (s *Selector) DetectRequired(text string, keywords []string, tier classifier.Complexity) []registry.AgentType {
	if tier == classifier.Simple || !tier.Valid() {
		return nil
	}

	lower := strings.ToLower(text)
	kw := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		kw[strings.ToLower(k)] = true
	}

	picked := make(map[registry.AgentType]bool)
	for at, triggers := range s.triggers() {
		for _, trig := range triggers {
			trig = strings.ToLower(trig)
			if kw[trig] || strings.Contains(lower, trig) {
				picked[at] = true
				break
			}
		}
	}

	if tier == classifier.Complex {
		for _, at := range ComplexDefaults {
			picked[at] = true
		}
	}
	return ordered(picked)
}

func (s *Selector) triggers() map[registry.AgentType][]string {
	merged := make(map[registry.AgentType][]string, len(defaultTriggers))
	for at, t := range defaultTriggers {
		merged[at] = t
	}
	if s.templates == nil {
		return merged
	}
	for at, extra := range s.templates.Triggers() {
		merged[at] = append(append([]string(nil), merged[at]...), extra...)
	}
	return merged
}

func ordered(picked map[registry.AgentType]bool) []registry.AgentType {
	if len(picked) == 0 {
		return nil
	}
	out := make([]registry.AgentType, 0, len(picked))
	for _, at := range builtinOrder {
		if picked[at] {
			out = append(out, at)
			delete(picked, at)
		}
	}
	rest := make([]registry.AgentType, 0, len(picked))
	for at := range picked {
		rest = append(rest, at)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}
