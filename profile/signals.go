package profile

import (
	"strings"

	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/tracker"
)

// Markers the extractor scans for in user messages. Matching is substring
// based after lowercasing, so "Explain in detail please" hits "in detail".
var (
	detailMarkers = []string{
		"in detail", "in depth", "thoroughly", "step by step",
		"walk me through", "elaborate", "comprehensive",
	}
	brevityMarkers = []string{
		"briefly", "tl;dr", "tldr", "in short", "quick answer",
		"one line", "summarize", "keep it short",
	}
	closingMarkers = []string{
		"thanks, that's all", "that's all for now", "goodbye", "bye for now",
		"we're done", "that answers my question",
	}
)

// ExtractSignals derives preference signals from a window of messages.
// Only user-authored messages are inspected; assistant output says nothing
// about what the user wants. Topics come from entity extraction over the
// same window. A DetailPreference below zero means no signal was found.
func ExtractSignals(msgs []core.Message) core.Signals {
	sig := core.Signals{DetailPreference: -1}

	var userTexts []string
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		userTexts = append(userTexts, m.Content)
	}
	if len(userTexts) == 0 {
		return sig
	}

	detail, brevity := 0, 0
	for _, text := range userTexts {
		lower := strings.ToLower(text)
		for _, marker := range detailMarkers {
			if strings.Contains(lower, marker) {
				detail++
				break
			}
		}
		for _, marker := range brevityMarkers {
			if strings.Contains(lower, marker) {
				brevity++
				break
			}
		}
		if !sig.ConversationClosed {
			for _, marker := range closingMarkers {
				if strings.Contains(lower, marker) {
					sig.ConversationClosed = true
					break
				}
			}
		}
	}
	switch {
	case detail > brevity:
		sig.DetailPreference = 1.0
	case brevity > detail:
		sig.DetailPreference = 0.0
	}

	sig.Style = tracker.DetectStyle(userTexts)
	if sig.Style == "neutral" {
		sig.Style = ""
	}

	seenTopic := map[string]bool{}
	for _, text := range userTexts {
		for _, topic := range tracker.ExtractTopics(text) {
			if seenTopic[topic] {
				continue
			}
			seenTopic[topic] = true
			sig.Topics = append(sig.Topics, topic)
		}
		// Acronyms a user throws around unprompted mark familiarity
		// with the area.
		for _, cand := range tracker.ExtractEntities(text) {
			if cand.Type != "acronym" {
				continue
			}
			hint := strings.ToLower(cand.Text)
			if !containsString(sig.ExpertiseHints, hint) {
				sig.ExpertiseHints = append(sig.ExpertiseHints, hint)
			}
		}
	}
	return sig
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
