package stream

import (
	"testing"

	"github.com/inkwell-labs/inkwell/internal/llm"
)

func TestAccumulatorAppendsInArrivalOrder(t *testing.T) {
	acc := NewAccumulator(false)

	acc.Apply(Event{Kind: EventContent, Text: "Inv"})
	acc.Apply(Event{Kind: EventContent, Text: "oice for $"})
	view := acc.Apply(Event{Kind: EventContent, Text: "500"})

	if view.Content != "Invoice for $500" {
		t.Errorf("content = %q, want %q", view.Content, "Invoice for $500")
	}
	if view.Reasoning != "" {
		t.Errorf("reasoning = %q, want empty", view.Reasoning)
	}
}

func TestAccumulatorChannelsAreIndependent(t *testing.T) {
	acc := NewAccumulator(false)

	acc.Apply(Event{Kind: EventReasoning, Text: "thinking "})
	acc.Apply(Event{Kind: EventContent, Text: "answer"})
	view := acc.Apply(Event{Kind: EventReasoning, Text: "harder"})

	if view.Content != "answer" {
		t.Errorf("content = %q, want %q", view.Content, "answer")
	}
	if view.Reasoning != "thinking harder" {
		t.Errorf("reasoning = %q, want %q", view.Reasoning, "thinking harder")
	}
}

func TestAccumulatorCitationsReplaceNotAppend(t *testing.T) {
	acc := NewAccumulator(false)

	acc.Apply(Event{Kind: EventCitations, Citations: []llm.Citation{
		{URL: "https://a", Title: "A"},
	}})
	view := acc.Apply(Event{Kind: EventCitations, Citations: []llm.Citation{
		{URL: "https://a", Title: "A"},
		{URL: "https://b", Title: "B"},
	}})

	if len(view.Citations) != 2 {
		t.Fatalf("citations = %d, want 2 (full-list replace)", len(view.Citations))
	}
	if view.Citations[1].URL != "https://b" {
		t.Errorf("citations[1] = %+v", view.Citations[1])
	}
}

func TestAccumulatorViewIsCopyOut(t *testing.T) {
	acc := NewAccumulator(false)
	acc.Apply(Event{Kind: EventCitations, Citations: []llm.Citation{{URL: "https://a"}}})

	view := acc.View()
	view.Citations[0].URL = "https://mutated"

	if got := acc.View().Citations[0].URL; got != "https://a" {
		t.Errorf("accumulator state mutated through view: %q", got)
	}
}

func TestAccumulatorSearchingFlag(t *testing.T) {
	acc := NewAccumulator(true)

	if view := acc.Apply(Event{Kind: EventContent, Text: "x"}); !view.IsSearching {
		t.Error("IsSearching = false before citations arrive, want true")
	}
	if view := acc.Apply(Event{Kind: EventCitations, Citations: []llm.Citation{{URL: "https://a"}}}); view.IsSearching {
		t.Error("IsSearching = true after citations arrived, want false")
	}
}

func TestAccumulatorSearchingClearsOnFinish(t *testing.T) {
	acc := NewAccumulator(true)
	acc.Apply(Event{Kind: EventContent, Text: "x"})
	acc.Finish()

	if acc.View().IsSearching {
		t.Error("IsSearching = true after Finish, want false")
	}
}

func TestAccumulatorIgnoresMalformed(t *testing.T) {
	acc := NewAccumulator(false)
	acc.Apply(Event{Kind: EventContent, Text: "keep"})
	view := acc.Apply(Event{Kind: EventMalformed, Text: "{junk"})

	if view.Content != "keep" {
		t.Errorf("content = %q, want %q", view.Content, "keep")
	}
}
