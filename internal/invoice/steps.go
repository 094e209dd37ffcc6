package invoice

// StepStatus is the display state of one build step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
)

// BuildStep is one coarse unit of progress through structured
// construction, shown to the user while the invoice streams in.
type BuildStep struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
}

// ProgressFunc reports which step IDs a snapshot currently satisfies.
// The predicate is injected rather than hardcoded so structured-build
// mode can later cover object types other than invoices.
type ProgressFunc func(inv *Invoice) map[string]bool

// DefaultSteps returns the ordered step list for invoice construction.
func DefaultSteps() []BuildStep {
	return []BuildStep{
		{ID: "understanding", Label: "Understanding request", Status: StepActive},
		{ID: "details", Label: "Gathering details", Status: StepPending},
		{ID: "items", Label: "Building line items", Status: StepPending},
		{ID: "totals", Label: "Calculating totals", Status: StepPending},
		{ID: "finalizing", Label: "Finalizing", Status: StepPending},
	}
}

// Progress is the invoice-schema predicate. Steps advance heuristically
// as specific fields become non-empty; the model declares no progress of
// its own. The totals and finalizing steps only complete at
// finalization.
func Progress(inv *Invoice) map[string]bool {
	done := map[string]bool{}
	if inv.Number != "" || inv.Date != "" || inv.From.Name != "" || len(inv.Items) > 0 {
		done["understanding"] = true
	}
	if inv.From.Name != "" && inv.To.Name != "" {
		done["details"] = true
	}
	if len(inv.Items) > 0 {
		done["items"] = true
	}
	return done
}

// Advance returns a copy of steps with satisfied steps marked complete
// in order and the first unsatisfied step marked active. Steps never
// move backwards: once complete, a step stays complete even if a later
// snapshot no longer satisfies its predicate.
func Advance(steps []BuildStep, done map[string]bool) []BuildStep {
	out := make([]BuildStep, len(steps))
	copy(out, steps)

	activeSet := false
	for i := range out {
		if out[i].Status == StepComplete || done[out[i].ID] {
			out[i].Status = StepComplete
			continue
		}
		if !activeSet {
			out[i].Status = StepActive
			activeSet = true
		} else {
			out[i].Status = StepPending
		}
	}
	return out
}

// Finalize marks every step complete. Called when the session completes
// and aggregates are locked.
func Finalize(steps []BuildStep) []BuildStep {
	out := make([]BuildStep, len(steps))
	copy(out, steps)
	for i := range out {
		out[i].Status = StepComplete
	}
	return out
}
