package harness

// TraceEvent is one entry in a scenario's execution trace. Events are
// appended in step order; sync confirmations resolve before the next
// step runs, so the trace is deterministic.
type TraceEvent struct {
	// Event names what happened: "seed", "edit", "confirm", "sync_error",
	// "remote", "poll", "poll_error".
	Event string `json:"event"`

	Op     string `json:"op,omitempty"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
	Mode   string `json:"mode,omitempty"`

	// Version is the server-assigned version on confirm and remote events.
	Version int64 `json:"version,omitempty"`

	// Cursor is the replica's sync cursor after a poll event.
	Cursor string `json:"cursor,omitempty"`

	// Error is the failure code or message on sync_error and poll_error.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every event in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failure messages. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends one trace event.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// CountEvents returns how many trace events carry the given name.
func (r *Result) CountEvents(event string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Event == event {
			n++
		}
	}
	return n
}
