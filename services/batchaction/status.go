package batchaction

// Status is the state of a batch action.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusPartial    Status = "PARTIAL"
)

// ParseStatus returns the status named by s and whether it is known.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusPartial:
		return st, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// CanTransitionTo reports whether moving from s to next is allowed.
//
// QUEUED moves to PROCESSING, or straight to FAILED when the job cannot
// start. PROCESSING may be re-entered, which restarts the run from zero.
// Terminal states are final.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusProcessing || next.IsTerminal()
	default:
		return false
	}
}

// TerminalStatus computes the final status from the final counters.
func TerminalStatus(processed, failed int) Status {
	switch {
	case failed == 0:
		return StatusCompleted
	case processed == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
