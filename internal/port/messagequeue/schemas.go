package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskDispatchPayload is sent to an agent to execute a task instruction.
type TaskDispatchPayload struct {
	RequestID   string `json:"request_id"`
	TaskID      string `json:"task_id"`
	MissionID   string `json:"mission_id,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	Instruction string `json:"instruction"`
}

// TaskResultPayload is reported by an agent when execution finishes.
type TaskResultPayload struct {
	RequestID string `json:"request_id"`
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Status    string `json:"status"` // "completed" or "failed"
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HeartbeatPayload is a periodic liveness report from an agent.
type HeartbeatPayload struct {
	AgentID   string `json:"agent_id"`
	MissionID string `json:"mission_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// Validate checks required fields on a dispatch payload.
func (p TaskDispatchPayload) Validate() error {
	if p.RequestID == "" {
		return fmt.Errorf("dispatch payload: request_id is required")
	}
	if p.TaskID == "" {
		return fmt.Errorf("dispatch payload: task_id is required")
	}
	if p.Instruction == "" {
		return fmt.Errorf("dispatch payload: instruction is required")
	}
	return nil
}

// Validate checks required fields on a result payload.
func (p TaskResultPayload) Validate() error {
	if p.RequestID == "" {
		return fmt.Errorf("result payload: request_id is required")
	}
	if p.TaskID == "" {
		return fmt.Errorf("result payload: task_id is required")
	}
	if p.Status != "completed" && p.Status != "failed" {
		return fmt.Errorf("result payload: status must be completed or failed, got %q", p.Status)
	}
	return nil
}

// Validate checks required fields on a heartbeat payload.
func (p HeartbeatPayload) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("heartbeat payload: agent_id is required")
	}
	return nil
}

// ValidatePayload checks that data is a well-formed message for the given
// subject. Known subjects are unmarshaled into their schema; any other
// subject only requires valid JSON.
func ValidatePayload(subject string, data []byte) error {
	switch {
	case subject == SubjectTaskDispatch || strings.HasPrefix(subject, SubjectTaskDispatch+"."):
		var p TaskDispatchPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("dispatch payload: %w", err)
		}
		return p.Validate()
	case subject == SubjectTaskResult || strings.HasPrefix(subject, SubjectTaskResult+"."):
		var p TaskResultPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("result payload: %w", err)
		}
		return p.Validate()
	case subject == SubjectAgentHeartbeat || strings.HasPrefix(subject, SubjectAgentHeartbeat+"."):
		var p HeartbeatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("heartbeat payload: %w", err)
		}
		return p.Validate()
	default:
		if !json.Valid(data) {
			return fmt.Errorf("subject %s: payload is not valid JSON", subject)
		}
		return nil
	}
}
