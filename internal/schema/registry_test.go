package schema

import (
	"testing"

	"evalpipe/internal/domain"
)

func validAgentRunCompleted() []byte {
	return []byte(`{
		"schema_version": "v1",
		"type": "AgentRunCompleted",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "run-1",
		"workflow_id": "wf-1",
		"query_id": "q-1",
		"request_timestamp": "2026-01-01T00:00:00Z",
		"event_time": "2026-01-01T00:00:00Z",
		"agent_run_id": "22222222-2222-2222-2222-222222222222",
		"completed_at": "2026-01-01T00:00:01Z",
		"metrics": {
			"latency_ms": 120,
			"faithfulness": 0.9,
			"hallucination_flag": false,
			"coverage": 0.8,
			"confidence": 0.7
		}
	}`)
}

func TestValidateEventAccepts(t *testing.T) {
	r := NewRegistry()
	ev, errs := r.ValidateEvent(validAgentRunCompleted())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	typed, ok := ev.(domain.AgentRunCompletedEvent)
	if !ok {
		t.Fatalf("expected AgentRunCompletedEvent, got %T", ev)
	}
	if typed.Metrics.Faithfulness == nil || *typed.Metrics.Faithfulness != 0.9 {
		t.Fatalf("expected faithfulness 0.9, got %+v", typed.Metrics.Faithfulness)
	}
}

func TestValidateEventRejectsUnknownField(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{
		"schema_version": "v1",
		"type": "AgentRunCompleted",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "run-1",
		"workflow_id": "wf-1",
		"query_id": "q-1",
		"request_timestamp": "2026-01-01T00:00:00Z",
		"event_time": "2026-01-01T00:00:00Z",
		"agent_run_id": "22222222-2222-2222-2222-222222222222",
		"completed_at": "2026-01-01T00:00:01Z",
		"metrics": {"latency_ms": 1},
		"unexpected_field": true
	}`)
	_, errs := r.ValidateEvent(raw)
	if len(errs) == 0 {
		t.Fatalf("expected unknown-field rejection")
	}
}

func TestValidateEventUnknownType(t *testing.T) {
	r := NewRegistry()
	_, errs := r.ValidateEvent([]byte(`{"type": "NotARealType"}`))
	if len(errs) == 0 {
		t.Fatalf("expected error for unknown type")
	}
}

func TestValidateBatchParallelSlices(t *testing.T) {
	r := NewRegistry()
	events, errs := r.ValidateBatch([][]byte{validAgentRunCompleted(), []byte(`{"type":"bogus"}`)})
	if len(events) != 2 || len(errs) != 2 {
		t.Fatalf("expected parallel slices of length 2")
	}
	if events[0] == nil || len(errs[0]) != 0 {
		t.Fatalf("expected first event to validate cleanly")
	}
	if events[1] != nil || len(errs[1]) == 0 {
		t.Fatalf("expected second event to fail")
	}
}
