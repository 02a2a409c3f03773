package evolution

import (
	"regexp"
	"strings"

	"github.com/sessionbuddy/sessionbuddy/internal/fingerprint"
)

// Basis values name which assignment stage decided.
const (
	BasisFingerprint = "fingerprint_prefilter"
	BasisEmbedding   = "embedding_cosine"
	BasisKeyword     = "keyword_match"
	BasisDefault     = "default"
)

// Assignment reports where a memory landed and how sure the engine is.
type Assignment struct {
	Subcategory string  `json:"subcategory"`
	Confidence  float64 `json:"confidence"`
	// Basis names which stage decided: fingerprint_prefilter,
	// embedding_cosine, keyword_match or default.
	Basis string `json:"basis"`
}

// AssignSubcategory places a memory within its category. Stages run in
// order: fingerprint near-duplicate match, centroid similarity, keyword
// overlap, then the default subcategory carrying the best score observed on
// the way down.
func (e *Engine) AssignSubcategory(mem Memory) Assignment {
	if _, err := ParseCategory(string(mem.Category)); err != nil {
		return Assignment{Subcategory: e.cfg.DefaultSubcategory, Basis: BasisDefault}
	}
	sig := fingerprint.New(mem.Content)
	subs := e.registry.list(mem.Category)

	best := Assignment{Subcategory: e.cfg.DefaultSubcategory, Basis: BasisDefault}

	// Near-duplicates join whatever subcategory their twin lives in.
	for _, sub := range subs {
		for _, ex := range sub.exemplars {
			if sim := fingerprint.Jaccard(sig, ex); sim >= e.cfg.FingerprintThreshold {
				e.registry.observe(mem.Category, sub.Name, sig)
				return Assignment{Subcategory: sub.Name, Confidence: sim, Basis: BasisFingerprint}
			}
		}
	}

	if len(mem.Embedding) > 0 {
		var bestSub string
		bestSim := -1.0
		for _, sub := range subs {
			if len(sub.Centroid) != len(mem.Embedding) {
				continue
			}
			if sim := cosine32(mem.Embedding, sub.Centroid); sim > bestSim {
				bestSim = sim
				bestSub = sub.Name
			}
		}
		if bestSub != "" {
			if bestSim >= e.cfg.SimilarityThreshold {
				e.registry.observe(mem.Category, bestSub, sig)
				return Assignment{Subcategory: bestSub, Confidence: bestSim, Basis: BasisEmbedding}
			}
			if bestSim > best.Confidence {
				best.Confidence = bestSim
			}
		}
	}

	tokens := tokenize(mem.Content)
	var bestSub string
	bestOverlap := 0.0
	for _, sub := range subs {
		if overlap := keywordOverlap(tokens, sub.Keywords); overlap > bestOverlap {
			bestOverlap = overlap
			bestSub = sub.Name
		}
	}
	if bestSub != "" && bestOverlap >= e.cfg.KeywordOverlapThreshold {
		e.registry.observe(mem.Category, bestSub, sig)
		return Assignment{Subcategory: bestSub, Confidence: bestOverlap, Basis: BasisKeyword}
	}
	if bestOverlap > best.Confidence {
		best.Confidence = bestOverlap
	}

	e.registry.observe(mem.Category, best.Subcategory, sig)
	return best
}

var tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)

// stopwords excluded from keyword extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "was": true, "are": true, "have": true,
	"has": true, "its": true, "they": true, "them": true, "will": true,
	"when": true, "where": true, "which": true, "into": true, "about": true,
	"because": true, "every": true, "always": true, "never": true,
}

// tokenize lowercases, splits on non-alphanumerics and drops stopwords and
// short tokens.
func tokenize(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range tokenSplitRe.Split(strings.ToLower(text), -1) {
		if len(tok) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// keywordOverlap is |tokens ∩ keywords| / |keywords|.
func keywordOverlap(tokens, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, tok := range tokens {
		set[tok] = true
	}
	matched := 0
	for _, kw := range keywords {
		if set[kw] {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}
