package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/agentspawn/internal/registry"
	"go.uber.org/zap"
)

const synthesisPrompt = `You are an expert synthesizer. Combine the specialist analyses below into
one clear, well-structured answer to the original task. Resolve
contradictions, keep concrete figures and code, and drop repetition.`

// Aggregator turns specialist outputs into one final response.
type Aggregator struct {
	reasoner Reasoner
	logger   *zap.Logger
}

// NewAggregator creates an Aggregator that synthesizes through reasoner.
func NewAggregator(reasoner Reasoner, logger *zap.Logger) *Aggregator {
	return &Aggregator{reasoner: reasoner, logger: logger}
}

// Aggregate produces the final response and a reasoning trace.
//
// A direct-reasoning answer is returned verbatim. Agent results are
// synthesized by the reasoner; if that call fails the results are
// concatenated under their agent type and the synthesis error is returned
// alongside the usable response.
func (a *Aggregator) Aggregate(ctx context.Context, meta TaskMetadata, agents []SpawnedAgent, skipped []registry.AgentType, direct *string) (string, string, error) {
	trace := buildTrace(meta, agents, skipped, direct != nil)

	var completed []SpawnedAgent
	for _, ag := range agents {
		if ag.Status == AgentCompleted {
			completed = append(completed, ag)
		}
	}
	if len(completed) == 0 {
		if direct != nil {
			return *direct, trace, nil
		}
		return "", trace, fmt.Errorf("nothing to aggregate")
	}

	out, err := a.reasoner.Invoke(ctx, synthesisPrompt, synthesisInput(meta, completed))
	if err == nil && strings.TrimSpace(out) != "" {
		return out, trace, nil
	}
	if err == nil {
		err = fmt.Errorf("empty synthesis")
	}
	a.logger.Warn("synthesis failed, concatenating results",
		zap.String("task_id", meta.TaskID), zap.Error(err))
	return Concatenate(completed), trace, err
}

// Concatenate joins completed results under their agent type, in order.
func Concatenate(completed []SpawnedAgent) string {
	var b strings.Builder
	for i, ag := range completed {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", ag.AgentType, strings.TrimSpace(ag.Result))
	}
	return b.String()
}

func synthesisInput(meta TaskMetadata, completed []SpawnedAgent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original task:\n%s\n\nSpecialist analyses:\n", meta.RawText)
	for _, ag := range completed {
		fmt.Fprintf(&b, "\n### %s (%s)\n%s\n", ag.AgentType, ag.AgentID, strings.TrimSpace(ag.Result))
	}
	return b.String()
}

func buildTrace(meta TaskMetadata, agents []SpawnedAgent, skipped []registry.AgentType, direct bool) string {
	var chosen, failed []string
	for _, ag := range agents {
		chosen = append(chosen, string(ag.AgentType))
		if ag.Status == AgentFailed {
			failed = append(failed, string(ag.AgentType))
		}
	}
	parts := []string{fmt.Sprintf("tier=%s", meta.Complexity)}
	if direct {
		parts = append(parts, "path=direct")
	}
	parts = append(parts,
		"chosen=["+strings.Join(chosen, ",")+"]",
		"skipped=["+joinTypes(skipped)+"]",
		"failed=["+strings.Join(failed, ",")+"]",
	)
	return "Aggregation: " + strings.Join(parts, " ")
}
