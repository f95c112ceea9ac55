package harness

import (
	"github.com/roach88/invar/internal/depgraph"
	"github.com/roach88/invar/internal/runner"
)

// TraceEvent is one stored verdict as read back from the store.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Trial     string `json:"trial"`
	Invariant string `json:"invariant"`
	Status    string `json:"status"`
	Severity  string `json:"severity"`
	Kind      string `json:"kind,omitempty"`
	Snapshot  bool   `json:"snapshot"` // a context export is attached
}

// CheckError is an invariant rejected before evaluation, or a coverage
// gap (Invariant empty).
type CheckError struct {
	Invariant string   `json:"invariant,omitempty"`
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Items     []string `json:"items,omitempty"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace is every verdict in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// CheckErrors lists invariants rejected by the sandbox or type checker
	// and any strict-mode coverage gap.
	CheckErrors []CheckError `json:"check_errors,omitempty"`

	// TrialErrors maps trial names to script failures.
	TrialErrors map[string]string `json:"trial_errors,omitempty"`

	// Coverage is set when the documents carry a program model.
	Coverage *depgraph.Coverage `json:"coverage,omitempty"`

	// Generated counts verified artifacts.
	Generated int `json:"generated"`

	Summary runner.Summary `json:"summary"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Errors:      []string{},
		TrialErrors: map[string]string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// find returns the trace event for trial and invariant.
func (r *Result) find(trial, invariant string) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.Trial == trial && ev.Invariant == invariant {
			return ev, true
		}
	}
	return TraceEvent{}, false
}
