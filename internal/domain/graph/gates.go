package graph

import (
	"fmt"

	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// Gate failure codes. Gate failures are expected, frequent outcomes: they are
// returned as data, never as errors.
const (
	CodeDepsIncomplete       = "DEPS_INCOMPLETE"
	CodeVerificationRequired = "VERIFICATION_REQUIRED"
	CodeFinalizationRequired = "FINALIZATION_REQUIRED"
	CodeArtifactsMissing     = "ARTIFACTS_MISSING"
	CodeUnknownTask          = "UNKNOWN_TASK"
)

// BlockingTask identifies a task (or missing artifact type) holding a gate closed.
type BlockingTask struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason"`
}

// GateResult is the structured outcome of a gate check.
type GateResult struct {
	Passed   bool           `json:"passed"`
	Code     string         `json:"code,omitempty"`
	Blocking []BlockingTask `json:"blocking,omitempty"`
}

func passed() GateResult { return GateResult{Passed: true} }

// CheckTaskGate evaluates the type-appropriate gate for the task: whether it
// may transition to running.
func (g *Graph) CheckTaskGate(taskID string) GateResult {
	t, ok := g.Tasks[taskID]
	if !ok {
		return GateResult{Code: CodeUnknownTask, Blocking: []BlockingTask{{ID: taskID, Reason: "task not in mission graph"}}}
	}

	switch t.Type {
	case task.TypeVerification:
		return g.checkVerificationGate(t)
	case task.TypeFinalization:
		return g.checkFinalizationGate(t)
	default:
		return g.checkWorkGate(t)
	}
}

// checkWorkGate passes iff every direct dependency is complete.
func (g *Graph) checkWorkGate(t *task.Task) GateResult {
	blocking := g.incompleteDeps(t)
	if len(blocking) > 0 {
		return GateResult{Code: CodeDepsIncomplete, Blocking: blocking}
	}
	return passed()
}

// checkVerificationGate passes iff direct deps are complete AND every
// work-type task transitively reachable as a dependency is complete.
// Verification cannot start while any upstream work is outstanding, even
// through an intermediate already-complete task.
func (g *Graph) checkVerificationGate(t *task.Task) GateResult {
	var blocking []BlockingTask
	blocking = append(blocking, g.incompleteDeps(t)...)

	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range g.Edges[id] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			d := g.Tasks[dep]
			if d.Type == task.TypeWork && d.Status != task.StatusComplete {
				blocking = append(blocking, BlockingTask{
					ID:     d.ID,
					Title:  d.Title,
					Reason: "upstream work task incomplete",
				})
			}
			walk(dep)
		}
	}
	walk(t.ID)

	// A verification task with no dependency edge still waits for all work
	// in the mission: untethered verification would otherwise race the work
	// it is supposed to check.
	if len(t.Deps) == 0 {
		for _, id := range g.order {
			w := g.Tasks[id]
			if w.Type == task.TypeWork && w.Status != task.StatusComplete {
				blocking = append(blocking, BlockingTask{
					ID:     w.ID,
					Title:  w.Title,
					Reason: "work task incomplete",
				})
			}
		}
	}

	if len(blocking) > 0 {
		return GateResult{Code: CodeVerificationRequired, Blocking: dedupe(blocking)}
	}
	return passed()
}

// checkFinalizationGate is mission-global: every verification task and every
// work task in the mission must be complete, plus the task's direct deps.
func (g *Graph) checkFinalizationGate(t *task.Task) GateResult {
	var blocking []BlockingTask
	blocking = append(blocking, g.incompleteDeps(t)...)

	for _, id := range g.order {
		other := g.Tasks[id]
		if other.ID == t.ID {
			continue
		}
		if (other.Type == task.TypeWork || other.Type == task.TypeVerification) &&
			other.Status != task.StatusComplete {
			blocking = append(blocking, BlockingTask{
				ID:     other.ID,
				Title:  other.Title,
				Reason: fmt.Sprintf("%s task incomplete", other.Type),
			})
		}
	}

	if len(blocking) > 0 {
		return GateResult{Code: CodeFinalizationRequired, Blocking: dedupe(blocking)}
	}
	return passed()
}

// CheckArtifactGate evaluates whether the task may transition to complete:
// every declared required artifact type must have at least one artifact
// recorded against the task. recordedTypes is the set of artifact types
// already stored for this task, supplied by the caller.
func (g *Graph) CheckArtifactGate(taskID string, recordedTypes map[string]int) GateResult {
	t, ok := g.Tasks[taskID]
	if !ok {
		return GateResult{Code: CodeUnknownTask, Blocking: []BlockingTask{{ID: taskID, Reason: "task not in mission graph"}}}
	}

	var blocking []BlockingTask
	for _, required := range t.RequiredArtifacts {
		if recordedTypes[required] == 0 {
			blocking = append(blocking, BlockingTask{
				Reason: fmt.Sprintf("required artifact %q not recorded", required),
			})
		}
	}
	if len(blocking) > 0 {
		return GateResult{Code: CodeArtifactsMissing, Blocking: blocking}
	}
	return passed()
}

// incompleteDeps returns the direct dependencies of t that are not complete.
func (g *Graph) incompleteDeps(t *task.Task) []BlockingTask {
	var blocking []BlockingTask
	for _, dep := range g.Edges[t.ID] {
		d := g.Tasks[dep]
		if d.Status != task.StatusComplete {
			blocking = append(blocking, BlockingTask{
				ID:     d.ID,
				Title:  d.Title,
				Reason: fmt.Sprintf("dependency is %s", d.Status),
			})
		}
	}
	return blocking
}

func dedupe(in []BlockingTask) []BlockingTask {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, b := range in {
		key := b.ID + "|" + b.Reason
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b)
	}
	return out
}
