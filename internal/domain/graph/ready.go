package graph

import (
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// ReadyTasks returns the ids of tasks that could transition to running right
// now: non-terminal, not already running or queued, with the type-appropriate
// gate passing. Sorted by task-type precedence then id.
func (g *Graph) ReadyTasks() []string {
	var ready []string
	for _, id := range g.order {
		t := g.Tasks[id]
		switch t.Status {
		case task.StatusComplete, task.StatusRunning, task.StatusQueued:
			continue
		}
		if g.CheckTaskGate(id).Passed {
			ready = append(ready, id)
		}
	}
	g.sortByPrecedence(ready)
	return ready
}

// TypeCounts breaks task counts down by status for one task type.
type TypeCounts struct {
	Total    int `json:"total"`
	Complete int `json:"complete"`
	Running  int `json:"running"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
	Blocked  int `json:"blocked"`
}

// Progress aggregates mission-wide task counts overall and per task type.
type Progress struct {
	Total           int                     `json:"total"`
	Complete        int                     `json:"complete"`
	Running         int                     `json:"running"`
	Pending         int                     `json:"pending"`
	Failed          int                     `json:"failed"`
	Blocked         int                     `json:"blocked"`
	PercentComplete float64                 `json:"percent_complete"`
	ByType          map[task.Type]TypeCounts `json:"by_type"`
}

// Progress computes aggregate counts for the mission.
func (g *Graph) Progress() Progress {
	p := Progress{ByType: make(map[task.Type]TypeCounts)}
	for _, id := range g.order {
		t := g.Tasks[id]
		p.Total++
		tc := p.ByType[t.Type]
		tc.Total++
		switch t.Status {
		case task.StatusComplete:
			p.Complete++
			tc.Complete++
		case task.StatusRunning:
			p.Running++
			tc.Running++
		case task.StatusFailed:
			p.Failed++
			tc.Failed++
		case task.StatusBlocked:
			p.Blocked++
			tc.Blocked++
		default: // pending, ready, queued
			p.Pending++
			tc.Pending++
		}
		p.ByType[t.Type] = tc
	}
	if p.Total > 0 {
		p.PercentComplete = float64(p.Complete) / float64(p.Total) * 100
	}
	return p
}
