// Package classifier scores raw task text into a complexity tier using
// deterministic keyword and structure heuristics.
package classifier

import (
	"sort"
	"strings"
	"unicode"
)

// Complexity is the tier assigned to a task.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Rank orders tiers from SIMPLE (0) to COMPLEX (2).
func (c Complexity) Rank() int {
	switch c {
	case Moderate:
		return 1
	case Complex:
		return 2
	default:
		return 0
	}
}

// Valid reports whether c is one of the known tiers.
func (c Complexity) Valid() bool {
	return c == Simple || c == Moderate || c == Complex
}

const minKeywordLen = 3

// Scores holds the accumulated score per tier.
type Scores struct {
	Simple   int `json:"simple"`
	Moderate int `json:"moderate"`
	Complex  int `json:"complex"`
}

func (s Scores) of(c Complexity) int {
	switch c {
	case Moderate:
		return s.Moderate
	case Complex:
		return s.Complex
	default:
		return s.Simple
	}
}

// Zero reports whether no tier received any hit.
func (s Scores) Zero() bool {
	return s.Simple == 0 && s.Moderate == 0 && s.Complex == 0
}

// Tier picks the winning tier. Ties go to the higher tier.
func (s Scores) Tier() Complexity {
	if s.Zero() {
		return Simple
	}
	best := Complex
	for _, c := range tierOrder[1:] {
		if s.of(c) > s.of(best) {
			best = c
		}
	}
	return best
}

// Classify returns the complexity tier of text and its extracted keywords.
// It never fails: blank input, or input with no hits in any tier, is SIMPLE
// with no keywords.
func Classify(text string) (Complexity, []string) {
	a := analyze(text)
	if a.scores.Zero() {
		return Simple, nil
	}
	return a.scores.Tier(), a.keywords()
}

// Score exposes the per-tier scores behind Classify.
func Score(text string) Scores {
	return analyze(text).scores
}

type vocabHit struct {
	term string
	pos  int
}

type analysis struct {
	tokens []string
	hits   []vocabHit
	scores Scores
}

func analyze(text string) analysis {
	var a analysis
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return a
	}
	a.tokens = tokenize(lower)
	seen := make(map[string]bool)

	for _, tier := range tierOrder {
		for _, term := range tierVocabulary[tier] {
			pos := match(a.tokens, term)
			if pos < 0 {
				continue
			}
			a.addScore(tier, 1)
			if !seen[term] {
				seen[term] = true
				a.hits = append(a.hits, vocabHit{term: term, pos: pos})
			}
		}
	}

	if sentenceCount(lower) > 2 {
		a.scores.Moderate++
		a.scores.Complex++
	}
	if strings.Count(lower, "?") > 1 {
		a.scores.Moderate++
		a.scores.Complex++
	}
	for _, term := range advancedVocabulary {
		if match(a.tokens, term) >= 0 {
			a.scores.Complex++
			break
		}
	}
	return a
}

func (a *analysis) addScore(c Complexity, n int) {
	switch c {
	case Simple:
		a.scores.Simple += n
	case Moderate:
		a.scores.Moderate += n
	case Complex:
		a.scores.Complex += n
	}
}

// keywords returns vocabulary hits in text order followed by the remaining
// significant tokens, without duplicates.
func (a *analysis) keywords() []string {
	// Vocabulary hits and plain tokens share one position order; a hit
	// sorts before the token it starts on.
	type candidate struct {
		term string
		pos  int
		hit  bool
	}
	cands := make([]candidate, 0, len(a.hits)+len(a.tokens))
	for _, h := range a.hits {
		cands = append(cands, candidate{term: h.term, pos: h.pos, hit: true})
	}
	for i, tok := range a.tokens {
		if len(tok) < minKeywordLen || stopWords[tok] {
			continue
		}
		cands = append(cands, candidate{term: tok, pos: i})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].pos != cands[j].pos {
			return cands[i].pos < cands[j].pos
		}
		return cands[i].hit && !cands[j].hit
	})

	seen := make(map[string]bool, len(cands))
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		if !seen[c.term] {
			seen[c.term] = true
			out = append(out, c.term)
		}
	}
	return out
}

// match returns the token index where term first occurs, or -1.
// Phrases must match consecutive tokens. A single word matches a token
// exactly, or as a prefix when the word is at least four characters long.
func match(tokens []string, term string) int {
	words := strings.Fields(term)
	if len(words) == 0 {
		return -1
	}
	if len(words) == 1 {
		for i, tok := range tokens {
			if tok == term || (len(term) >= 4 && strings.HasPrefix(tok, term)) {
				return i
			}
		}
		return -1
	}
	for i := 0; i+len(words) <= len(tokens); i++ {
		ok := true
		for j, w := range words {
			if tokens[i+j] != w {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

func tokenize(lower string) []string {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#' && r != '\'' && r != '-'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(f, "'s")
		f = strings.Trim(f, "'-")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func sentenceCount(text string) int {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	n := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}
