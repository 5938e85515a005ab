package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "missionctl"

// Metrics holds all Mission Control metric instruments.
type Metrics struct {
	TasksScheduled   metric.Int64Counter
	TasksCompleted   metric.Int64Counter
	TasksFailed      metric.Int64Counter
	MissionsStarted  metric.Int64Counter
	MissionsFinished metric.Int64Counter
	SignalsEmitted   metric.Int64Counter
	ProposalsCreated metric.Int64Counter
	ProposalsApplied metric.Int64Counter
	TaskDuration     metric.Float64Histogram
	MissionCost      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksScheduled, err = meter.Int64Counter("missionctl.tasks.scheduled",
		metric.WithDescription("Number of tasks handed to the dispatcher"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("missionctl.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("missionctl.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.MissionsStarted, err = meter.Int64Counter("missionctl.missions.started",
		metric.WithDescription("Number of missions activated from the queue"))
	if err != nil {
		return nil, err
	}

	m.MissionsFinished, err = meter.Int64Counter("missionctl.missions.finished",
		metric.WithDescription("Number of missions reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	m.SignalsEmitted, err = meter.Int64Counter("missionctl.signals.emitted",
		metric.WithDescription("Number of watchdog system signals emitted"))
	if err != nil {
		return nil, err
	}

	m.ProposalsCreated, err = meter.Int64Counter("missionctl.proposals.created",
		metric.WithDescription("Number of self-heal proposals created"))
	if err != nil {
		return nil, err
	}

	m.ProposalsApplied, err = meter.Int64Counter("missionctl.proposals.applied",
		metric.WithDescription("Number of self-heal proposals applied"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("missionctl.task.duration_seconds",
		metric.WithDescription("Task execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.MissionCost, err = meter.Float64Histogram("missionctl.mission.cost_usd",
		metric.WithDescription("Estimated mission cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
