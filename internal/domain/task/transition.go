package task

import (
	"fmt"
	"sort"
	"strings"
)

// allowedTransitions is the explicit status transition table. A transition
// absent from this table is invalid regardless of any gate outcome.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusBlocked},
	StatusReady:   {StatusRunning, StatusBlocked},
	StatusRunning: {StatusComplete, StatusFailed, StatusBlocked},
	StatusBlocked: {StatusPending, StatusReady},
	StatusFailed:  {StatusPending}, // retry path
}

// InvalidTransitionError is returned when a status change is not in the
// allowed-transition table. It enumerates the permitted targets so callers
// can report exactly what would have been legal.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	targets := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		targets[i] = string(s)
	}
	sort.Strings(targets)
	return fmt.Sprintf("invalid transition %s -> %s (allowed: %s)",
		e.From, e.To, strings.Join(targets, ", "))
}

// ValidateTransition checks the transition table only. Gate checks (type gate
// for running, artifact gate for complete) are enforced by the graph service
// on top of this.
func ValidateTransition(from, to Status) error {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to, Allowed: allowedTransitions[from]}
}

// AllowedTargets returns the statuses reachable from the given status.
func AllowedTargets(from Status) []Status {
	targets := allowedTransitions[from]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}
