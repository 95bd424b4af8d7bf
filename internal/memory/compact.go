package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const compactPrompt = `Condense the following conversation into a short summary. Keep names,
numbers, decisions and open questions; drop pleasantries.`

// Summarizer condenses text. *provider.Reasoner satisfies it.
type Summarizer interface {
	Invoke(ctx context.Context, system, user string) (string, error)
}

// Compactor renders history like Format, but when the entries overflow
// the token budget the older half is replaced by a model-written summary
// instead of being dropped.
type Compactor struct {
	summarizer Summarizer
	budget     Budget
	logger     *zap.Logger
}

// NewCompactor creates a Compactor. A zero budget uses DefaultBudget.
func NewCompactor(s Summarizer, budget Budget, logger *zap.Logger) *Compactor {
	if budget.MaxTokens <= 0 {
		budget = DefaultBudget()
	}
	return &Compactor{summarizer: s, budget: budget, logger: logger}
}

// Compact returns the transcript to inject into prompts. Summarization
// failures fall back to Format's truncation.
func (c *Compactor) Compact(ctx context.Context, entries []Entry) string {
	if c.budget.MaxEntries > 0 && len(entries) > c.budget.MaxEntries {
		entries = entries[len(entries)-c.budget.MaxEntries:]
	}
	if len(entries) <= 2 || totalTokens(entries) <= c.budget.MaxTokens {
		return Format(entries, c.budget)
	}

	cut := len(entries) / 2
	summary, err := c.summarizer.Invoke(ctx, compactPrompt, transcript(entries[:cut]))
	summary = strings.TrimSpace(summary)
	if err == nil && summary == "" {
		err = fmt.Errorf("empty summary")
	}
	if err != nil {
		c.logger.Warn("history summarization failed, truncating", zap.Error(err))
		return Format(entries, c.budget)
	}
	c.logger.Debug("history compacted",
		zap.Int("summarized", cut), zap.Int("kept", len(entries)-cut))

	rest := c.budget
	rest.MaxTokens = max(c.budget.MaxTokens-estimateTokens(summary), 1)
	recent := Format(entries[cut:], rest)
	if recent == "" {
		return "summary: " + summary
	}
	return "summary: " + summary + "\n" + recent
}

func transcript(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s]: %s\n", e.Role, strings.TrimSpace(e.Content))
	}
	return b.String()
}

func totalTokens(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += estimateTokens(e.Content)
	}
	return n
}
