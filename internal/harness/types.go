package harness

import "github.com/roach88/tasksync/internal/engine"

// Outcome values recorded in the trace besides error codes.
const (
	OutcomeOK   = "ok"
	OutcomeHeld = "held"
)

// TraceEvent records one step and the published state after it settled.
type TraceEvent struct {
	Step    int      `json:"step"`
	Do      string   `json:"do"`
	Label   string   `json:"label,omitempty"`
	ID      string   `json:"id,omitempty"` // id of the entity a create or add produced
	Outcome string   `json:"outcome"`
	Titles  []string `json:"titles"`
	Pending int      `json:"pending"`
}

// WriteRecord is one write attempt observed by the store.
type WriteRecord struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step outcome and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Writes holds every write the store saw, in order.
	Writes []WriteRecord `json:"writes"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the engine's final publication.
	State engine.State `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Writes: []WriteRecord{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
