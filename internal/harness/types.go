package harness

import "github.com/roach88/concord/internal/ir"

// Step kinds recorded in the trace.
const (
	KindOp        = "op"
	KindSync      = "sync"
	KindReconcile = "reconcile"
)

// Op step outcomes. Rejections are recorded as "rejected:<REASON>".
const (
	OutcomeEmitted = "emitted"
	OutcomeNoop    = "noop"
)

// TraceEvent records what one step did.
type TraceEvent struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Replica string `json:"replica,omitempty"`
	Field   string `json:"field,omitempty"`
	Intent  string `json:"intent,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Stamp   string `json:"stamp,omitempty"`

	// Sync steps.
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Changed int    `json:"changed,omitempty"`

	// Reconcile steps.
	ConfirmedTotal int64 `json:"confirmed_total,omitempty"`
}

// ViolationEvent is an eventual constraint violation seen by a replica.
type ViolationEvent struct {
	Replica     string `json:"replica"`
	Constraint  string `json:"constraint"`
	Field       string `json:"field"`
	Description string `json:"description"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Final maps each replica to its field values after the last step.
	Final map[string]ir.Object `json:"final"`

	// Violations lists eventual violations in the order they were reported.
	Violations []ViolationEvent `json:"violations,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Final:  map[string]ir.Object{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
