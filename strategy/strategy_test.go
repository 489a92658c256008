package strategy

import (
	"testing"

	"github.com/recallhq/recall-go-sdk/classify"
)

func TestResolve_ExplicitPassThrough(t *testing.T) {
	cls := classify.Classification{ContextDependent: true, Confidence: 0.9}

	for _, s := range []Strategy{ConversationOnly, MemoryOnly, Hybrid} {
		if got := Resolve(s, cls, 0); got != s {
			t.Errorf("Resolve(%v) = %v, want pass-through", s, got)
		}
	}
}

func TestResolve_AutoIndependent(t *testing.T) {
	// Independent queries resolve to conversation_only at any confidence.
	for _, conf := range []float64{0.0, 0.3, 0.6, 1.0} {
		cls := classify.Classification{ContextDependent: false, Confidence: conf}
		if got := Resolve(Auto, cls, 0); got != ConversationOnly {
			t.Errorf("Resolve(auto, independent, conf=%.1f) = %v, want conversation_only", conf, got)
		}
	}
}

func TestResolve_AutoDependentHighConfidence(t *testing.T) {
	cls := classify.Classification{ContextDependent: true, Confidence: 0.9}
	if got := Resolve(Auto, cls, 0); got != Hybrid {
		t.Errorf("Resolve(auto, dependent, 0.9) = %v, want hybrid", got)
	}
}

func TestResolve_AutoDependentLowConfidence(t *testing.T) {
	cls := classify.Classification{ContextDependent: true, Confidence: 0.4}
	if got := Resolve(Auto, cls, 0); got != ConversationOnly {
		t.Errorf("Resolve(auto, dependent, 0.4) = %v, want conversation_only fallback", got)
	}
}

func TestResolve_MemoryOnlyNeverAutoSelected(t *testing.T) {
	for _, dep := range []bool{true, false} {
		for _, conf := range []float64{0.0, 0.5, 1.0} {
			cls := classify.Classification{ContextDependent: dep, Confidence: conf}
			if got := Resolve(Auto, cls, 0); got == MemoryOnly {
				t.Errorf("auto selected memory_only (dep=%v conf=%.1f)", dep, conf)
			}
		}
	}
}

func TestResolve_CustomThreshold(t *testing.T) {
	cls := classify.Classification{ContextDependent: true, Confidence: 0.55}
	if got := Resolve(Auto, cls, 0.5); got != Hybrid {
		t.Errorf("Resolve with threshold 0.5 = %v, want hybrid", got)
	}
	if got := Resolve(Auto, cls, 0.7); got != ConversationOnly {
		t.Errorf("Resolve with threshold 0.7 = %v, want conversation_only", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []Strategy{Auto, ConversationOnly, MemoryOnly, Hybrid} {
		got, err := Parse(s.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", s.String(), err)
		}
		if got != s {
			t.Errorf("Parse(%q) = %v, want %v", s.String(), got, s)
		}
	}

	if _, err := Parse("semantic_only"); err == nil {
		t.Error("expected error for unknown strategy name")
	}
}

func TestPlanSourceFlags(t *testing.T) {
	if !Hybrid.NeedsConversation() || !Hybrid.NeedsMemory() {
		t.Error("hybrid must read both sources")
	}
	if !ConversationOnly.NeedsConversation() || ConversationOnly.NeedsMemory() {
		t.Error("conversation_only must read the window only")
	}
	if MemoryOnly.NeedsConversation() || !MemoryOnly.NeedsMemory() {
		t.Error("memory_only must read memory only")
	}
}
