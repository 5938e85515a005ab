package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "missionctl"

// StartDispatchSpan starts a span for a task dispatch to an agent.
func StartDispatchSpan(ctx context.Context, taskID, missionID, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("mission.id", missionID),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartWatchdogTickSpan starts a span for a watchdog tick.
func StartWatchdogTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "watchdog.tick")
}

// StartHealSpan starts a span for a self-heal proposal evaluation or application.
func StartHealSpan(ctx context.Context, proposalID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "heal."+action,
		trace.WithAttributes(
			attribute.String("proposal.id", proposalID),
		),
	)
}
