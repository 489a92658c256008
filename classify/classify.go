// Package classify decides whether a query depends on prior conversational
// context. The classifier is purely heuristic: it never errors, and an
// ambiguous query resolves to the majority signal with low confidence so
// downstream strategy selection can fall back cheaply.
package classify

import (
	"math"
	"strings"
)

// DefaultMinTokens is the token count below which a query is assumed to
// lean on prior turns ("why?", "and then?").
const DefaultMinTokens = 4

// Classification is the classifier verdict.
type Classification struct {
	// ContextDependent reports whether the query needs historical context.
	ContextDependent bool

	// Confidence is a heuristic score in [0,1]. Values at or below 0.5
	// mean the evidence was ambiguous or conflicting.
	Confidence float64
}

// Classifier scores queries for context dependence.
type Classifier struct {
	minTokens int
}

// New creates a classifier. minTokens <= 0 selects DefaultMinTokens.
func New(minTokens int) *Classifier {
	if minTokens <= 0 {
		minTokens = DefaultMinTokens
	}
	return &Classifier{minTokens: minTokens}
}

// anaphors are single-token references to something said earlier.
var anaphors = map[string]bool{
	"it": true, "that": true, "this": true, "these": true, "those": true,
	"they": true, "them": true, "he": true, "she": true, "him": true,
	"her": true, "its": true, "their": true, "one": true, "ones": true,
}

// continuationMarkers signal that the query extends an earlier thread.
var continuationMarkers = []string{
	"what about", "how about", "and then", "further", "also",
	"instead", "again", "as well", "the same", "more of",
	"the first", "the second", "the third", "the last", "the other",
}

// standalonePrefixes open self-contained factual or definitional queries.
var standalonePrefixes = []string{
	"what is ", "what are ", "who is ", "who was ", "who are ",
	"how do i ", "how does ", "how to ", "when did ", "when was ",
	"where is ", "where are ", "define ", "explain what ",
}

// Classify scores a query. When hasPriorTurns is false the query can never
// be context dependent: there is nothing to depend on.
func (c *Classifier) Classify(query string, hasPriorTurns bool) Classification {
	if !hasPriorTurns {
		return Classification{ContextDependent: false, Confidence: 1.0}
	}

	norm := strings.ToLower(strings.TrimSpace(query))
	tokens := fields(norm)

	var dep, indep float64
	if containsAnaphor(tokens) {
		dep += 0.5
	}
	if matchesAny(norm, continuationMarkers) {
		dep += 0.4
	}
	if len(tokens) > 0 && len(tokens) < c.minTokens {
		dep += 0.4
	}
	if hasPrefixAny(norm, standalonePrefixes) {
		indep += 0.5
	}
	if len(tokens) >= c.minTokens+2 && dep == 0 {
		indep += 0.3
	}

	switch {
	case dep > 0 && indep == 0:
		return Classification{ContextDependent: true, Confidence: clamp(0.5 + dep)}
	case indep > 0 && dep == 0:
		return Classification{ContextDependent: false, Confidence: clamp(0.5 + indep)}
	default:
		// Conflicting or absent evidence: majority wins, confidence stays
		// at or below 0.5 so auto strategy selection degrades cheaply.
		conf := math.Min(0.5, 0.3+math.Abs(dep-indep)/2)
		return Classification{ContextDependent: dep > indep, Confidence: conf}
	}
}

// fields splits on whitespace and strips trailing punctuation per token.
func fields(s string) []string {
	raw := strings.Fields(s)
	out := raw[:0]
	for _, tok := range raw {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func containsAnaphor(tokens []string) bool {
	for _, tok := range tokens {
		if anaphors[tok] {
			return true
		}
	}
	return false
}

func matchesAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v > 0.95 {
		return 0.95
	}
	if v < 0 {
		return 0
	}
	return v
}
