package classifier

// Trigger vocabularies per tier. Multi-word entries are matched as phrases
// against the token stream, single words against individual tokens.
var tierVocabulary = map[Complexity][]string{
	Simple: {
		"hello", "hi", "greet", "simple", "basic",
		"what is", "who is", "define", "explain briefly", "summarize",
	},
	Moderate: {
		"analyze", "compare", "discuss", "evaluate", "review",
		"create", "write", "generate", "solve", "calculate",
		"implement", "develop", "design",
	},
	Complex: {
		"research", "investigate", "deep dive", "comprehensive", "advanced",
		"optimization", "architecture", "strategy", "complex system",
		"multiple factors", "multi-step", "data analysis", "statistical", "algorithm",
	},
}

// advancedVocabulary adds a structural bonus to the COMPLEX tier on top of
// the regular vocabulary hits.
var advancedVocabulary = []string{
	"advanced", "sophisticated", "in-depth", "state-of-the-art",
	"cutting-edge", "enterprise-grade", "production-grade",
}

// tierOrder is the scan order used for keyword extraction and tie-breaks,
// highest tier first.
var tierOrder = []Complexity{Complex, Moderate, Simple}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true,
	"that": true, "are": true, "was": true, "were": true, "from": true,
	"into": true, "what": true, "which": true, "who": true, "how": true,
	"why": true, "when": true, "where": true, "you": true, "your": true,
	"our": true, "its": true, "has": true, "have": true, "had": true,
	"can": true, "could": true, "should": true, "would": true, "will": true,
	"about": true, "than": true, "then": true, "them": true, "they": true,
	"their": true, "there": true, "these": true, "those": true, "all": true,
	"any": true, "some": true, "not": true, "but": true, "also": true,
	"just": true, "only": true, "very": true, "more": true, "most": true,
	"such": true, "each": true, "other": true, "please": true, "does": true,
	"did": true, "been": true, "being": true, "her": true, "his": true,
	"she": true, "him": true, "out": true, "get": true, "let": true,
}
