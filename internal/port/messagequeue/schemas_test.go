package messagequeue_test

import (
	"testing"

	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
	}{
		{
			name:    "valid dispatch",
			subject: messagequeue.SubjectTaskDispatch,
			data:    `{"request_id":"r1","task_id":"t1","instruction":"run tests"}`,
		},
		{
			name:    "dispatch missing request id",
			subject: messagequeue.SubjectTaskDispatch,
			data:    `{"task_id":"t1","instruction":"run tests"}`,
			wantErr: true,
		},
		{
			name:    "dispatch missing instruction",
			subject: messagequeue.SubjectTaskDispatch,
			data:    `{"request_id":"r1","task_id":"t1"}`,
			wantErr: true,
		},
		{
			name:    "valid completed result",
			subject: messagequeue.SubjectTaskResult,
			data:    `{"request_id":"r1","task_id":"t1","status":"completed"}`,
		},
		{
			name:    "valid failed result",
			subject: messagequeue.SubjectTaskResult,
			data:    `{"request_id":"r1","task_id":"t1","status":"failed","error":"boom"}`,
		},
		{
			name:    "result bad status",
			subject: messagequeue.SubjectTaskResult,
			data:    `{"request_id":"r1","task_id":"t1","status":"done"}`,
			wantErr: true,
		},
		{
			name:    "valid heartbeat",
			subject: messagequeue.SubjectAgentHeartbeat,
			data:    `{"agent_id":"a1"}`,
		},
		{
			name:    "heartbeat missing agent",
			subject: messagequeue.SubjectAgentHeartbeat,
			data:    `{}`,
			wantErr: true,
		},
		{
			name:    "unknown subject valid json",
			subject: "missions.test.anything",
			data:    `{"free":"form"}`,
		},
		{
			name:    "unknown subject invalid json",
			subject: "missions.test.anything",
			data:    `not-json`,
			wantErr: true,
		},
		{
			name:    "dispatch invalid json",
			subject: messagequeue.SubjectTaskDispatch,
			data:    `not-json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := messagequeue.ValidatePayload(tt.subject, []byte(tt.data))
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
