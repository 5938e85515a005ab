// Package messagequeue defines the message queue port used to reach the
// agent execution collaborator. The engine publishes instructions and
// consumes results; agent processes themselves are opaque.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for dispatch and results.
const (
	SubjectTaskDispatch   = "missions.tasks.dispatch"   // engine -> agent: execute an instruction
	SubjectTaskResult     = "missions.tasks.result"     // agent -> engine: completion or failure
	SubjectAgentHeartbeat = "missions.agents.heartbeat" // agent -> engine: liveness
)
