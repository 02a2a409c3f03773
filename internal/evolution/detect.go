package evolution

import "strings"

// categoryLexicon maps each category to indicator keywords. DetectCategory
// counts hits per category; ties go to the canonical category order.
var categoryLexicon = map[Category][]string{
	CategoryFacts: {
		"is", "are", "was", "runs", "uses", "located", "version", "released",
		"contains", "consists", "named",
	},
	CategoryPreferences: {
		"prefer", "prefers", "likes", "dislikes", "favorite", "rather",
		"instead", "style", "wants",
	},
	CategorySkills: {
		"how", "install", "configure", "build", "deploy", "debug", "run",
		"command", "steps", "tutorial", "guide",
	},
	CategoryRules: {
		"must", "should", "never", "always", "require", "required",
		"forbidden", "policy", "convention", "only",
	},
	CategoryContext: {
		"currently", "working", "project", "session", "today", "yesterday",
		"meeting", "deadline", "sprint",
	},
}

// DetectCategory guesses the category of free-form content. Unmatched
// content lands in context.
func DetectCategory(content string) Category {
	hits := map[Category]int{}
	tokens := map[string]bool{}
	for _, tok := range tokenizeAll(content) {
		tokens[tok] = true
	}
	for cat, words := range categoryLexicon {
		for _, w := range words {
			if tokens[w] {
				hits[cat]++
			}
		}
	}

	best := CategoryContext
	bestHits := 0
	for _, cat := range Categories {
		if hits[cat] > bestHits {
			bestHits = hits[cat]
			best = cat
		}
	}
	return best
}

// tokenizeAll splits like tokenize but keeps stopwords and short tokens,
// which the lexicon relies on.
func tokenizeAll(text string) []string {
	var out []string
	for _, tok := range tokenSplitRe.Split(strings.ToLower(text), -1) {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
