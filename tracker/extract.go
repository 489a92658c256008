package tracker

import (
	"strings"
	"unicode"
)

// Candidate is a named concept detected in text, prior to tracking.
type Candidate struct {
	Text string
	Type string // "name", "acronym", or "term"
}

// stopwords are filtered out of topic and term extraction.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "them": true, "this": true, "that": true, "these": true,
	"those": true, "my": true, "your": true, "his": true, "her": true,
	"its": true, "our": true, "their": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "with": true, "from": true, "by": true,
	"about": true, "into": true, "over": true, "after": true, "before": true,
	"not": true, "no": true, "yes": true, "so": true, "if": true, "then": true,
	"than": true, "too": true, "very": true, "just": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "whom": true,
	"how": true, "why": true, "all": true, "any": true, "both": true,
	"each": true, "few": true, "more": true, "most": true, "other": true,
	"some": true, "such": true, "there": true, "here": true, "also": true,
	"please": true, "thanks": true, "thank": true, "like": true, "want": true,
	"need": true, "know": true, "think": true, "make": true, "really": true,
	"tell": true, "explain": true, "using": true, "used": true, "use": true,
	"ask": true, "show": true, "give": true, "help": true, "find": true,
}

// ExtractEntities detects candidate entities in a text span:
// capitalized multi-word names, all-caps acronyms, and salient
// lowercase terms. Every occurrence counts as one mention.
func ExtractEntities(text string) []Candidate {
	var out []Candidate
	words := strings.Fields(text)

	// Capitalized runs ("Neural Networks", "San Francisco"). A single-word
	// run that opens a sentence is ordinary sentence case, not a name.
	var run []string
	runAtStart := false
	atStart := true
	flush := func() {
		if len(run) == 0 {
			return
		}
		if len(run) > 1 || !runAtStart {
			out = append(out, Candidate{Text: strings.ToLower(strings.Join(run, " ")), Type: "name"})
		}
		run = nil
	}
	for _, w := range words {
		clean := strings.Trim(w, ".,;:!?\"'()[]")
		if clean == "" {
			continue
		}
		if isAcronym(clean) {
			flush()
			out = append(out, Candidate{Text: strings.ToLower(clean), Type: "acronym"})
			atStart = endsSentence(w)
			continue
		}
		if isCapitalized(clean) && !stopwords[strings.ToLower(clean)] {
			if len(run) == 0 {
				runAtStart = atStart
			}
			run = append(run, clean)
		} else {
			flush()
		}
		atStart = endsSentence(w)
		if atStart {
			flush()
		}
	}
	flush()

	// Salient lowercase terms: long enough to carry meaning, not noise.
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,;:!?\"'()[]"))
		if len(clean) < 5 || stopwords[clean] || !isAlpha(clean) {
			continue
		}
		if isCapitalized(strings.Trim(w, ".,;:!?\"'()[]")) {
			continue // already captured as a name
		}
		out = append(out, Candidate{Text: clean, Type: "term"})
	}

	return out
}

// ExtractTopics returns the distinct salient terms of a text span in
// first-occurrence order.
func ExtractTopics(text string) []string {
	var topics []string
	seen := map[string]bool{}
	for _, c := range ExtractEntities(text) {
		if c.Type == "acronym" {
			continue
		}
		if !seen[c.Text] {
			seen[c.Text] = true
			topics = append(topics, c.Text)
		}
	}
	return topics
}

var casualMarkers = []string{"hey", "lol", "haha", "gonna", "wanna", "btw", "thx", "yeah", "cool", ":)", ":d"}
var formalMarkers = []string{"therefore", "furthermore", "moreover", "regards", "kindly", "hence", "accordingly", "pursuant"}

// DetectStyle classifies a span of messages as casual, formal, or neutral
// from marker counts.
func DetectStyle(texts []string) string {
	var casual, formal int
	for _, t := range texts {
		low := strings.ToLower(t)
		for _, m := range casualMarkers {
			if strings.Contains(low, m) {
				casual++
			}
		}
		for _, m := range formalMarkers {
			if strings.Contains(low, m) {
				formal++
			}
		}
	}
	switch {
	case casual > formal && casual > 0:
		return "casual"
	case formal > casual && formal > 0:
		return "formal"
	default:
		return "neutral"
	}
}

func isCapitalized(w string) bool {
	r := []rune(w)
	return len(r) > 0 && unicode.IsUpper(r[0]) && !isAcronym(w)
}

func isAcronym(w string) bool {
	if len(w) < 2 || len(w) > 6 {
		return false
	}
	for _, r := range w {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isAlpha(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) && r != '-' {
			return false
		}
	}
	return len(w) > 0
}

func endsSentence(w string) bool {
	return strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?")
}
