// Package memory stores per-thread conversation history and recalls it as
// prompt context for later tasks on the same thread.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entry is one remembered turn.
type Entry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TaskID  string    `json:"task_id,omitempty"`
	At      time.Time `json:"at"`
}

// Provider is the optional history collaborator of the engine. Recall
// returns at most limit entries, oldest first; query may be used to rank.
type Provider interface {
	Recall(ctx context.Context, threadID, query string, limit int) ([]Entry, error)
	Remember(ctx context.Context, threadID string, entries ...Entry) error
}

// Budget bounds how much history is injected into a prompt.
type Budget struct {
	MaxTokens  int
	MaxEntries int
}

// DefaultBudget returns the budget used when none is configured.
func DefaultBudget() Budget {
	return Budget{MaxTokens: 1500, MaxEntries: 20}
}

// Format renders entries as a transcript, keeping the most recent entries
// that fit the budget. It returns "" for no entries.
func Format(entries []Entry, budget Budget) string {
	if budget.MaxTokens <= 0 {
		budget = DefaultBudget()
	}
	if budget.MaxEntries > 0 && len(entries) > budget.MaxEntries {
		entries = entries[len(entries)-budget.MaxEntries:]
	}

	used := 0
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		est := estimateTokens(entries[i].Content)
		if used+est > budget.MaxTokens {
			break
		}
		used += est
		start = i
	}

	var b strings.Builder
	for _, e := range entries[start:] {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, strings.TrimSpace(e.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

// estimateTokens gives a rough token count (~4 chars per token).
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}
