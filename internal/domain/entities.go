package domain

import "time"

type RawEvent struct {
	TenantID        string
	EventID         string
	SchemaVersion   string
	Type            EventType
	EventTime       time.Time
	IngestTime      time.Time
	Payload         []byte
	IdempotencyKey  *string
	AttemptCount    int
	ProcessedAt     *time.Time
	ProcessingError *string
}

type IngestRequestStatus string

const (
	IngestRequestProcessing IngestRequestStatus = "processing"
	IngestRequestCompleted  IngestRequestStatus = "completed"
	IngestRequestFailed     IngestRequestStatus = "failed"
)

type IngestRequest struct {
	TenantID        string
	IdempotencyKey  string
	RequestSHA256   string
	Status          IngestRequestStatus
	ResponseStatus  int
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type DeadLetterEvent struct {
	ID        string
	TenantID  string
	Reason    string
	Errors    []ValidationError
	Payload   []byte
	CreatedAt time.Time
}

// ValidationError mirrors the AJV-style structured error the registry
// (C3) produces: a path into the document, the failing keyword, and
// keyword-specific params.
type ValidationError struct {
	Path    string         `json:"path"`
	Keyword string         `json:"keyword"`
	Params  map[string]any `json:"params,omitempty"`
	Message string         `json:"message"`
}

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

type OrchestrationRun struct {
	TenantID         string
	RunID            string
	WorkflowID       string
	QueryID          string
	Query            string
	RequestTimestamp time.Time
	Status           RunStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	TotalLatencyMs   *int64
	ErrorCode        *string
	ErrorMessage     *string
	OrchestratorMeta map[string]any
	ClientMeta       map[string]any
	UserMeta         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type AgentRun struct {
	TenantID           string
	AgentRunID         string
	OrchestrationRunID string
	AgentID            string
	AgentVersion       string
	Model              *string
	ConfigHash         *string
	ParentAgentRunID   *string
	StartedAt          *time.Time
	CompletedAt        *time.Time
	LatencyMs          *int64
	OutputSummary      *string
	OutputURI          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EvaluationRecord denormalizes workflow/agent/version from the owning
// OrchestrationRun/AgentRun so the jobs (C7-C10) can group by
// (workflow, agent, version) without a join on every scan.
type EvaluationRecord struct {
	TenantID              string
	EvaluationID           string
	AgentRunID             string
	WorkflowID             string
	AgentID                string
	AgentVersion           string
	LatencyMs              *int64
	Faithfulness           *float64
	HallucinationFlag      *bool
	Coverage               *float64
	Confidence             *float64
	LatencyNorm            *float64
	FaithfulnessNorm       *float64
	CoverageNorm           *float64
	ConfidenceNorm         *float64
	HallucinationNorm      *float64
	RunQualityScore        *float64
	RiskScore              *float64
	EvaluatorVersion       string
	NormalizationVersion   string
	WeightingVersion       string
	ScoringTimestamp       time.Time
	AnomalyFlag            bool
	CreatedAt              time.Time
}

type RetrievalContext struct {
	TenantID           string
	OrchestrationRunID string
	AgentRunID         string
	ContextRef         string
	Payload            map[string]any
	CreatedAt          time.Time
}

type MetricRollupHourly struct {
	TenantID         string
	WorkflowID       string
	AgentID          string
	AgentVersion     string
	HourBucket       time.Time
	Count            int64
	LatencyMean      *float64
	LatencyStddev    *float64
	LatencyP95       *float64
	FaithfulnessMean   *float64
	FaithfulnessStddev *float64
	FaithfulnessP05  *float64
	FaithfulnessP10  *float64
	FaithfulnessP50  *float64
	FaithfulnessP95  *float64
	QualityMean      *float64
	QualityStddev    *float64
	QualityP05       *float64
	QualityP10       *float64
	QualityP50       *float64
	QualityP95       *float64
	AnomalyCount     int64
	UpdatedAt        time.Time
}

type Anomaly struct {
	TenantID     string
	AnomalyID    string
	EvaluationID string
	WorkflowID   string
	AgentID      string
	AgentVersion string
	MetricName   string
	Method       string
	Value        float64
	Threshold    float64
	ZScore       *float64
	Details      map[string]any
	CreatedAt    time.Time
}

type PerformanceShift struct {
	TenantID          string
	ShiftID           string
	WorkflowID        string
	AgentID           string
	AgentVersion      string
	MetricName        string
	WindowAStart      time.Time
	WindowAEnd        time.Time
	WindowBStart      time.Time
	WindowBEnd        time.Time
	Method            string
	PValue            float64
	BHAdjustedPValue  float64
	EffectSize        float64
	Significant       bool
	Details           map[string]any
	CreatedAt         time.Time
}

type Signal struct {
	TenantID           string
	SignalID           string
	EventTime          time.Time
	Horizon            string
	InstrumentUniverse []InstrumentWeight
	SignalValue        SignalValue
	Confidence         *float64
	Constraints        map[string]any
	CreatedAt          time.Time
}

type MarketOutcome struct {
	TenantID        string
	DatasetVersion  string
	InstrumentID    string
	AsofTime        time.Time
	RealizedReturn  float64
	BenchmarkReturn *float64
	CreatedAt       time.Time
}

type SignalOutcome struct {
	TenantID        string
	SignalID        string
	Horizon         string
	DatasetVersion  string
	BacktestID      string
	RealizedReturn  float64
	BenchmarkReturn float64
	ExcessReturn    float64
	NetReturn       float64
	Details         map[string]any
	CreatedAt       time.Time
}

type BacktestStatus string

const (
	BacktestRunning  BacktestStatus = "running"
	BacktestComplete BacktestStatus = "complete"
)

type BacktestRun struct {
	TenantID       string
	BacktestID     string
	DatasetVersion string
	Horizon        string
	Start          time.Time
	End            time.Time
	CostBps        float64
	CodeVersion    string
	Summary        map[string]any
	Status         BacktestStatus
	CreatedAt      time.Time
}

type ActionStatus string

const ActionOpen ActionStatus = "open"

type RecommendedAction struct {
	TenantID   string
	ActionID   string
	ActionType string
	Target     map[string]any
	Payload    map[string]any
	DecidedBy  string
	Status     ActionStatus
	CreatedAt  time.Time
}

type AuditActorType string

const (
	AuditActorSystem AuditActorType = "system"
	AuditActorUser   AuditActorType = "user"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

type AuditEntry struct {
	ID           string
	TenantID     string
	EventType    string
	ActorType    AuditActorType
	ActorIDHash  string
	TargetType   string
	TargetID     string
	Result       AuditResult
	ErrorCode    string
	Payload      map[string]any
	CreatedAt    time.Time
}
