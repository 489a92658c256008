// Package strategy resolves a requested context strategy into the concrete
// retrieval plan governing which sources populate a context bundle.
package strategy

import (
	"fmt"

	"github.com/recallhq/recall-go-sdk/classify"
)

// Strategy is a closed set of retrieval plans. Using a tagged variant
// instead of raw strings keeps dispatch exhaustive and checkable.
type Strategy int

const (
	// Auto lets the classifier verdict pick the plan.
	Auto Strategy = iota

	// ConversationOnly uses the live conversation window only.
	ConversationOnly

	// MemoryOnly uses long-term memory matches only. Never auto-selected:
	// discarding the live window is a strong signal-loss decision reserved
	// for explicit callers.
	MemoryOnly

	// Hybrid combines the conversation window with memory matches.
	Hybrid
)

// DefaultHybridConfidenceThreshold is the classifier confidence required
// before auto selects the hybrid plan.
const DefaultHybridConfidenceThreshold = 0.6

// String returns the wire name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Auto:
		return "auto"
	case ConversationOnly:
		return "conversation_only"
	case MemoryOnly:
		return "memory_only"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Parse converts a wire name into a Strategy.
func Parse(s string) (Strategy, error) {
	switch s {
	case "auto", "":
		return Auto, nil
	case "conversation_only":
		return ConversationOnly, nil
	case "memory_only":
		return MemoryOnly, nil
	case "hybrid":
		return Hybrid, nil
	default:
		return Auto, fmt.Errorf("strategy: unknown strategy %q", s)
	}
}

// NeedsConversation reports whether the resolved plan reads the live window.
func (s Strategy) NeedsConversation() bool {
	return s == ConversationOnly || s == Hybrid
}

// NeedsMemory reports whether the resolved plan queries long-term memory.
func (s Strategy) NeedsMemory() bool {
	return s == MemoryOnly || s == Hybrid
}

// Resolve maps a requested strategy and a classification to a concrete
// plan. Explicit requests pass through unchanged. Auto resolves to
// ConversationOnly for context-independent queries, Hybrid for dependent
// ones with confidence at or above the threshold, and falls back to
// ConversationOnly when the classifier was unsure. Pure and deterministic.
func Resolve(requested Strategy, cls classify.Classification, threshold float64) Strategy {
	if threshold <= 0 {
		threshold = DefaultHybridConfidenceThreshold
	}
	switch requested {
	case ConversationOnly, MemoryOnly, Hybrid:
		return requested
	case Auto:
		if cls.ContextDependent && cls.Confidence >= threshold {
			return Hybrid
		}
		return ConversationOnly
	default:
		return ConversationOnly
	}
}
