// Package graph implements the per-mission task dependency graph: cycle
// detection, topological execution order, type gates, readiness, and
// progress aggregation. All functions are pure and operate on task slices
// loaded by the caller; persistence and caching live in the service layer.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// ErrCycle indicates the dependency relation contains a cycle.
var ErrCycle = errors.New("task dependencies contain a cycle")

// ErrDanglingDep indicates a task depends on an id that does not exist in the mission.
var ErrDanglingDep = errors.New("task depends on unknown task")

// Graph is a mission's task dependency graph with a reverse-edge index.
// Edges point from a task to each task it depends on; Dependents is the
// reverse index used for efficient gate re-evaluation.
type Graph struct {
	MissionID  string
	Tasks      map[string]*task.Task
	Edges      map[string][]string // task id -> dependency ids
	Dependents map[string][]string // task id -> ids of tasks depending on it
	order      []string            // insertion order, for deterministic iteration
}

// Build constructs a Graph from the mission's tasks. Every dependency must
// reference an existing task in the same slice; a dangling reference fails
// with the offending ids (cross-mission edges are impossible by construction).
func Build(missionID string, tasks []task.Task) (*Graph, error) {
	g := &Graph{
		MissionID:  missionID,
		Tasks:      make(map[string]*task.Task, len(tasks)),
		Edges:      make(map[string][]string, len(tasks)),
		Dependents: make(map[string][]string),
	}

	for i := range tasks {
		t := &tasks[i]
		if _, dup := g.Tasks[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %s in mission %s", t.ID, missionID)
		}
		g.Tasks[t.ID] = t
		g.order = append(g.order, t.ID)
	}

	for i := range tasks {
		t := &tasks[i]
		for _, dep := range t.Deps {
			if _, ok := g.Tasks[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on %s: %w", t.ID, dep, ErrDanglingDep)
			}
			g.Edges[t.ID] = append(g.Edges[t.ID], dep)
			g.Dependents[dep] = append(g.Dependents[dep], t.ID)
		}
	}

	return g, nil
}

// TaskIDs returns all task ids in insertion order.
func (g *Graph) TaskIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.Tasks)
}

// CycleResult is the outcome of cycle detection. When a cycle exists, Path
// holds the exact ordered task ids forming it, for diagnostics.
type CycleResult struct {
	HasCycle bool     `json:"has_cycle"`
	Path     []string `json:"path,omitempty"`
}

// DetectCycle runs a depth-first search with a recursion stack. On finding a
// back-edge into the current stack it returns the cycle path in dependency
// order. Must be run before any topological computation.
func (g *Graph) DetectCycle() CycleResult {
	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.Tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.Edges[id] {
			switch color[dep] {
			case white:
				if path := visit(dep); path != nil {
					return path
				}
			case gray:
				// Back-edge: slice the stack from the first occurrence of dep.
				for i, sid := range stack {
					if sid == dep {
						path := make([]string, len(stack)-i)
						copy(path, stack[i:])
						return append(path, dep)
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if path := visit(id); path != nil {
				return CycleResult{HasCycle: true, Path: path}
			}
		}
	}
	return CycleResult{HasCycle: false}
}

// ExecutionOrder computes a topological order with Kahn's algorithm. Within
// every wave of in-degree-zero tasks the secondary sort key is task-type
// precedence (work before verification before finalization), then id for
// determinism. If the produced order is shorter than the node count a cycle
// exists and the computation fails with that diagnosis; a partial order is
// never returned.
func (g *Graph) ExecutionOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.Tasks))
	for _, id := range g.order {
		inDegree[id] = len(g.Edges[id])
	}

	var frontier []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	order := make([]string, 0, len(g.Tasks))
	for len(frontier) > 0 {
		g.sortByPrecedence(frontier)
		next := frontier[0]
		frontier = frontier[1:]
		order = append(order, next)

		for _, dependent := range g.Dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				frontier = append(frontier, dependent)
			}
		}
	}

	if len(order) != len(g.Tasks) {
		cycle := g.DetectCycle()
		return nil, fmt.Errorf("execution order covers %d of %d tasks (cycle: %s): %w",
			len(order), len(g.Tasks), strings.Join(cycle.Path, " -> "), ErrCycle)
	}
	return order, nil
}

// sortByPrecedence orders ids by task-type precedence, then id.
func (g *Graph) sortByPrecedence(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi := g.Tasks[ids[i]].Type.Precedence()
		pj := g.Tasks[ids[j]].Type.Precedence()
		if pi != pj {
			return pi < pj
		}
		return ids[i] < ids[j]
	})
}
