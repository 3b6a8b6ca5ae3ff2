package transcript

import (
	"strings"
	"testing"
)

func TestReduceScenario(t *testing.T) {
	events := []Event{
		{Kind: Partial, Text: "他"},
		{Kind: Partial, Text: "他好"},
		{Kind: Final, Text: "他好。"},
	}

	var s State
	s = Reduce(s, events[0])
	if s.Partial != "他" || s.FinalText() != "" {
		t.Fatalf("After first partial: %+v", s)
	}
	s = Reduce(s, events[1])
	if s.Partial != "他好" || s.FinalText() != "" {
		t.Fatalf("After second partial: %+v", s)
	}
	s = Reduce(s, events[2])
	if s.Partial != "" {
		t.Errorf("Expected partial cleared, got %q", s.Partial)
	}
	if s.FinalText() != "他好。 " {
		t.Errorf("Expected final text %q, got %q", "他好。 ", s.FinalText())
	}
}

func TestReduceFinalConcatenation(t *testing.T) {
	texts := []string{"hello", "world", "", "again."}

	var s State
	var want strings.Builder
	for _, text := range texts {
		s = Reduce(s, Event{Kind: Partial, Text: "noise"})
		s = Reduce(s, Event{Kind: Final, Text: text})
		want.WriteString(text + " ")
	}

	if s.FinalText() != want.String() {
		t.Errorf("Expected %q, got %q", want.String(), s.FinalText())
	}
}

func TestReducePartialIsLastWins(t *testing.T) {
	var s State
	s = Reduce(s, Event{Kind: Final, Text: "done"})
	for _, p := range []string{"a", "ab", "abc"} {
		s = Reduce(s, Event{Kind: Partial, Text: p})
	}

	if s.Partial != "abc" {
		t.Errorf("Expected last partial, got %q", s.Partial)
	}
	if s.FinalText() != "done " {
		t.Errorf("Partials must not touch final text, got %q", s.FinalText())
	}
}

func TestReduceErrorNoticeUnchanged(t *testing.T) {
	s := State{Finals: []string{"kept"}, Partial: "pending"}
	next := Reduce(s, Event{Kind: ErrorNotice, Message: "LimitExceeded"})

	if next.Partial != "pending" || next.FinalText() != "kept " {
		t.Errorf("Expected state unchanged, got %+v", next)
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	base := State{Finals: make([]string, 1, 4)}
	base.Finals[0] = "one"

	a := Reduce(base, Event{Kind: Final, Text: "two"})
	b := Reduce(base, Event{Kind: Final, Text: "three"})

	if a.FinalText() != "one two " {
		t.Errorf("Unexpected a: %q", a.FinalText())
	}
	if b.FinalText() != "one three " {
		t.Errorf("Unexpected b: %q", b.FinalText())
	}
	if len(base.Finals) != 1 {
		t.Errorf("Input state was mutated: %v", base.Finals)
	}
}

func TestReconciler(t *testing.T) {
	var r Reconciler

	if !r.Apply(Event{Kind: Partial, Text: "hi"}) {
		t.Error("Expected partial to be a visible change")
	}
	if r.Apply(Event{Kind: Partial, Text: "hi"}) {
		t.Error("Expected repeated partial to be no change")
	}
	if r.Apply(Event{Kind: ErrorNotice, Message: "x"}) {
		t.Error("Expected error notice to be no change")
	}
	if !r.Apply(Event{Kind: Final, Text: "hi there"}) {
		t.Error("Expected final to be a visible change")
	}

	r.Apply(Event{Kind: Partial, Text: "next"})
	r.DropPartial()
	if st := r.State(); st.Partial != "" || st.FinalText() != "hi there " {
		t.Errorf("Unexpected state after DropPartial: %+v", st)
	}

	r.Reset()
	if st := r.State(); st.Partial != "" || len(st.Finals) != 0 {
		t.Errorf("Expected empty state after Reset, got %+v", st)
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{Partial: "partial", Final: "final", ErrorNotice: "error"} {
		if kind.String() != want {
			t.Errorf("Expected %s, got %s", want, kind.String())
		}
	}
}
