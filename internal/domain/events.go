package domain

import "time"

// EventType enumerates the closed set of event types the ingest front-end
// and materialization worker dispatch on. The set is closed; adding a
// member requires adding a schema (C3) and a dispatch case (C5).
type EventType string

const (
	EventOrchestrationRunStarted   EventType = "OrchestrationRunStarted"
	EventOrchestrationRunCompleted EventType = "OrchestrationRunCompleted"
	EventAgentRunStarted           EventType = "AgentRunStarted"
	EventAgentRunCompleted         EventType = "AgentRunCompleted"
	EventRetrievalContextAttached  EventType = "RetrievalContextAttached"
	EventSignalEmitted             EventType = "SignalEmitted"
	EventMarketOutcomeIngested     EventType = "MarketOutcomeIngested"
)

// Envelope is the common header shared by every concrete event type.
type Envelope struct {
	SchemaVersion      string    `json:"schema_version"`
	Type               EventType `json:"type"`
	EventID            string    `json:"event_id"`
	TenantID           string    `json:"tenant_id"`
	OrchestrationRunID string    `json:"orchestration_run_id"`
	WorkflowID         string    `json:"workflow_id"`
	QueryID            string    `json:"query_id"`
	RequestTimestamp   time.Time `json:"request_timestamp"`
	EventTime          time.Time `json:"event_time"`
}

// Event is implemented by every concrete, decoded event type. Dispatch in
// the materialization worker (C5) switches exhaustively over the
// concrete type returned by the schema registry (C3).
type Event interface {
	Envelope() Envelope
}

type OrchestrationRunStartedEvent struct {
	Env              Envelope       `json:"-"`
	Query            string         `json:"query"`
	OrchestratorMeta map[string]any `json:"orchestrator_meta,omitempty"`
	ClientMeta       map[string]any `json:"client_meta,omitempty"`
	UserMeta         map[string]any `json:"user_meta,omitempty"`
}

func (e OrchestrationRunStartedEvent) Envelope() Envelope { return e.Env }

type OrchestrationRunCompletedEvent struct {
	Env            Envelope  `json:"-"`
	Status         string    `json:"status"`
	CompletedAt    time.Time `json:"completed_at"`
	TotalLatencyMs *int64    `json:"total_latency_ms,omitempty"`
	ErrorCode      *string   `json:"error_code,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
}

func (e OrchestrationRunCompletedEvent) Envelope() Envelope { return e.Env }

type AgentRunStartedEvent struct {
	Env              Envelope  `json:"-"`
	AgentRunID       string    `json:"agent_run_id"`
	AgentID          string    `json:"agent_id"`
	AgentVersion     string    `json:"agent_version"`
	Model            *string   `json:"model,omitempty"`
	ConfigHash       *string   `json:"config_hash,omitempty"`
	ParentAgentRunID *string   `json:"parent_agent_run_id,omitempty"`
	StartedAt        time.Time `json:"started_at"`
}

func (e AgentRunStartedEvent) Envelope() Envelope { return e.Env }

type AgentRunCompletedEvent struct {
	Env           Envelope     `json:"-"`
	AgentRunID    string       `json:"agent_run_id"`
	CompletedAt   time.Time    `json:"completed_at"`
	OutputSummary *string      `json:"output_summary,omitempty"`
	OutputURI     *string      `json:"output_uri,omitempty"`
	Metrics       AgentMetrics `json:"metrics"`
}

func (e AgentRunCompletedEvent) Envelope() Envelope { return e.Env }

// AgentMetrics is the raw-metric sub-object required by AgentRunCompleted.
type AgentMetrics struct {
	LatencyMs         *int64   `json:"latency_ms,omitempty"`
	Faithfulness      *float64 `json:"faithfulness,omitempty"`
	HallucinationFlag *bool    `json:"hallucination_flag,omitempty"`
	Coverage          *float64 `json:"coverage,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
}

type RetrievalContextAttachedEvent struct {
	Env        Envelope       `json:"-"`
	AgentRunID string         `json:"agent_run_id"`
	ContextRef string         `json:"context_ref"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func (e RetrievalContextAttachedEvent) Envelope() Envelope { return e.Env }

type SignalEmittedEvent struct {
	Env                Envelope           `json:"-"`
	SignalID           string             `json:"signal_id"`
	Horizon            string             `json:"horizon"`
	InstrumentUniverse []InstrumentWeight `json:"instrument_universe"`
	SignalValue        SignalValue        `json:"signal_value"`
	Confidence         *float64           `json:"confidence,omitempty"`
	Constraints        map[string]any     `json:"constraints,omitempty"`
}

func (e SignalEmittedEvent) Envelope() Envelope { return e.Env }

type InstrumentWeight struct {
	ID     string   `json:"id"`
	Weight *float64 `json:"weight,omitempty"`
}

// SignalValue is the three-case tagged union {scalar, vector, text}.
// Exactly one of Scalar/Vector/Text is populated, selected by Kind.
type SignalValue struct {
	Kind   string             `json:"kind"`
	Scalar *float64           `json:"scalar,omitempty"`
	Vector map[string]float64 `json:"vector,omitempty"`
	Text   *string            `json:"text,omitempty"`
}

const (
	SignalValueScalar = "scalar"
	SignalValueVector = "vector"
	SignalValueText   = "text"
)

type MarketOutcomeIngestedEvent struct {
	Env             Envelope  `json:"-"`
	DatasetVersion  string    `json:"dataset_version"`
	InstrumentID    string    `json:"instrument_id"`
	AsofTime        time.Time `json:"asof_time"`
	RealizedReturn  float64   `json:"realized_return"`
	BenchmarkReturn *float64  `json:"benchmark_return,omitempty"`
}

func (e MarketOutcomeIngestedEvent) Envelope() Envelope { return e.Env }
