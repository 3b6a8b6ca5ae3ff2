package transcript

import "strings"

// State is the reconciled transcript. Finals holds each finalized span in
// arrival order; Partial is the latest interim hypothesis.
type State struct {
	Finals  []string
	Partial string
}

// FinalText renders the finalized spans, each followed by one space
func (s State) FinalText() string {
	var b strings.Builder
	for _, span := range s.Finals {
		b.WriteString(span)
		b.WriteByte(' ')
	}
	return b.String()
}

// Reduce applies one event. It never mutates s: a Final appends to a copy of
// the span list. ErrorNotice leaves the state untouched; callers report it
// through their own error path.
func Reduce(s State, e Event) State {
	switch e.Kind {
	case Partial:
		return State{Finals: s.Finals, Partial: e.Text}
	case Final:
		finals := make([]string, len(s.Finals), len(s.Finals)+1)
		copy(finals, s.Finals)
		return State{Finals: append(finals, e.Text)}
	default:
		return s
	}
}

// Reconciler owns a State for a single writer. It is not safe for
// concurrent use; the pipeline event loop is its only caller.
type Reconciler struct {
	state State
}

// Apply folds e into the state and reports whether anything visible changed
func (r *Reconciler) Apply(e Event) bool {
	next := Reduce(r.state, e)
	changed := next.Partial != r.state.Partial || len(next.Finals) != len(r.state.Finals)
	r.state = next
	return changed
}

// State returns the current state
func (r *Reconciler) State() State {
	return r.state
}

// DropPartial discards the in-flight hypothesis, keeping finalized text
func (r *Reconciler) DropPartial() {
	r.state.Partial = ""
}

// Reset clears everything
func (r *Reconciler) Reset() {
	r.state = State{}
}
