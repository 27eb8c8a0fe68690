// Package schema is the declarative event schema registry (C3). It
// compiles one JSON Schema per event type plus the shared base envelope,
// and exposes ValidateEvent/ValidateBatch returning a tagged result:
// a typed domain.Event on success, or a list of structured errors
// (path, keyword, message) on failure - the registry never panics and
// never returns a bare error for a malformed document.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"evalpipe/internal/domain"
)

type Registry struct {
	compiled map[domain.EventType]*jsonschema.Schema
}

// NewRegistry compiles every schema in schemaSources once at construction
// time; a compile failure here is a programming error, not a runtime
// condition, so it panics - the same posture the teacher's init()-time
// Prometheus registrations take.
func NewRegistry() *Registry {
	compiler := jsonschema.NewCompiler()
	for name, src := range schemaSources {
		url := "mem://evalpipe/" + name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader([]byte(src))); err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
	}
	r := &Registry{compiled: make(map[domain.EventType]*jsonschema.Schema)}
	for name := range schemaSources {
		url := "mem://evalpipe/" + name + ".json"
		s, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", name, err))
		}
		r.compiled[domain.EventType(name)] = s
	}
	return r
}

// ValidateEvent decodes and validates a single event document. On success
// it returns the typed domain.Event; on failure it returns structured
// errors with no typed value.
func (r *Registry) ValidateEvent(raw []byte) (domain.Event, []domain.ValidationError) {
	var peek struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, []domain.ValidationError{{
			Path:    "",
			Keyword: "syntax",
			Message: err.Error(),
		}}
	}
	s, ok := r.compiled[peek.Type]
	if !ok {
		return nil, []domain.ValidationError{{
			Path:    "/type",
			Keyword: "enum",
			Message: fmt.Sprintf("unknown event type %q", peek.Type),
		}}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, []domain.ValidationError{{Path: "", Keyword: "syntax", Message: err.Error()}}
	}
	if err := s.Validate(doc); err != nil {
		return nil, toValidationErrors(err)
	}

	ev, err := decodeTyped(peek.Type, raw)
	if err != nil {
		return nil, []domain.ValidationError{{Path: "", Keyword: "decode", Message: err.Error()}}
	}
	return ev, nil
}

// ValidateBatch validates each raw document in order, returning parallel
// slices: events[i] is non-nil iff errs[i] is empty.
func (r *Registry) ValidateBatch(raws [][]byte) ([]domain.Event, [][]domain.ValidationError) {
	events := make([]domain.Event, len(raws))
	errs := make([][]domain.ValidationError, len(raws))
	for i, raw := range raws {
		ev, verrs := r.ValidateEvent(raw)
		events[i] = ev
		errs[i] = verrs
	}
	return events, errs
}

// toValidationErrors flattens a jsonschema validation failure into the
// AJV-style {path, keyword, message} records dead-lettered verbatim by
// the ingest front-end. ValidationError.Causes holds one entry per
// sub-schema that failed; a leaf with no further causes is a concrete
// keyword failure.
func toValidationErrors(err error) []domain.ValidationError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []domain.ValidationError{{Keyword: "schema", Message: err.Error()}}
	}
	var out []domain.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, domain.ValidationError{
				Path:    e.InstanceLocation,
				Keyword: e.KeywordLocation,
				Message: e.Message,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(out) == 0 {
		out = append(out, domain.ValidationError{Keyword: "schema", Message: err.Error()})
	}
	return out
}

func decodeTyped(t domain.EventType, raw []byte) (domain.Event, error) {
	switch t {
	case domain.EventOrchestrationRunStarted:
		var body struct {
			domain.Envelope
			Query            string         `json:"query"`
			OrchestratorMeta map[string]any `json:"orchestrator_meta"`
			ClientMeta       map[string]any `json:"client_meta"`
			UserMeta         map[string]any `json:"user_meta"`
		}
		if err := strictUnmarshalInto(raw, &body, false); err != nil {
			return nil, err
		}
		return domain.OrchestrationRunStartedEvent{
			Env:              body.Envelope,
			Query:            body.Query,
			OrchestratorMeta: body.OrchestratorMeta,
			ClientMeta:       body.ClientMeta,
			UserMeta:         body.UserMeta,
		}, nil

	case domain.EventOrchestrationRunCompleted:
		var body struct {
			domain.Envelope
			Status         string    `json:"status"`
			CompletedAt    time.Time `json:"completed_at"`
			TotalLatencyMs *int64    `json:"total_latency_ms"`
			ErrorCode      *string   `json:"error_code"`
			ErrorMessage   *string   `json:"error_message"`
		}
		if err := strictUnmarshalInto(raw, &body, false); err != nil {
			return nil, err
		}
		return domain.OrchestrationRunCompletedEvent{
			Env:            body.Envelope,
			Status:         body.Status,
			CompletedAt:    body.CompletedAt,
			TotalLatencyMs: body.TotalLatencyMs,
			ErrorCode:      body.ErrorCode,
			ErrorMessage:   body.ErrorMessage,
		}, nil

	case domain.EventAgentRunStarted:
		var body struct {
			domain.Envelope
			AgentRunID       string    `json:"agent_run_id"`
			AgentID          string    `json:"agent_id"`
			AgentVersion     string    `json:"agent_version"`
			Model            *string   `json:"model"`
			ConfigHash       *string   `json:"config_hash"`
			ParentAgentRunID *string   `json:"parent_agent_run_id"`
			StartedAt        time.Time `json:"started_at"`
		}
		if err := strictUnmarshalInto(raw, &body, false); err != nil {
			return nil, err
		}
		return domain.AgentRunStartedEvent{
			Env:              body.Envelope,
			AgentRunID:       body.AgentRunID,
			AgentID:          body.AgentID,
			AgentVersion:     body.AgentVersion,
			Model:            body.Model,
			ConfigHash:       body.ConfigHash,
			ParentAgentRunID: body.ParentAgentRunID,
			StartedAt:        body.StartedAt,
		}, nil

	case domain.EventAgentRunCompleted:
		var body struct {
			domain.Envelope
			AgentRunID    string              `json:"agent_run_id"`
			CompletedAt   time.Time           `json:"completed_at"`
			OutputSummary *string             `json:"output_summary"`
			OutputURI     *string             `json:"output_uri"`
			Metrics       domain.AgentMetrics `json:"metrics"`
		}
		if err := strictUnmarshalInto(raw, &body, false); err != nil {
			return nil, err
		}
		return domain.AgentRunCompletedEvent{
			Env:           body.Envelope,
			AgentRunID:    body.AgentRunID,
			CompletedAt:   body.CompletedAt,
			OutputSummary: body.OutputSummary,
			OutputURI:     body.OutputURI,
			Metrics:       body.Metrics,
		}, nil

	case domain.EventRetrievalContextAttached:
		var body struct {
			domain.Envelope
			AgentRunID string         `json:"agent_run_id"`
			ContextRef string         `json:"context_ref"`
			Payload    map[string]any `json:"payload"`
		}
		if err := strictUnmarshalInto(raw, &body, false); err != nil {
			return nil, err
		}
		return domain.RetrievalContextAttachedEvent{
			Env:        body.Envelope,
			AgentRunID: body.AgentRunID,
			ContextRef: body.ContextRef,
			Payload:    body.Payload,
		}, nil

	case domain.EventSignalEmitted:
		var body struct {
			domain.Envelope
			SignalID           string                     `json:"signal_id"`
			Horizon            string                     `json:"horizon"`
			InstrumentUniverse []domain.InstrumentWeight  `json:"instrument_universe"`
			SignalValue        domain.SignalValue         `json:"signal_value"`
			Confidence         *float64                   `json:"confidence"`
			Constraints        map[string]any             `json:"constraints"`
		}
		if err := strictUnmarshalInto(raw, &body, false); err != nil {
			return nil, err
		}
		return domain.SignalEmittedEvent{
			Env:                body.Envelope,
			SignalID:           body.SignalID,
			Horizon:            body.Horizon,
			InstrumentUniverse: body.InstrumentUniverse,
			SignalValue:        body.SignalValue,
			Confidence:         body.Confidence,
			Constraints:        body.Constraints,
		}, nil

	case domain.EventMarketOutcomeIngested:
		var body struct {
			domain.Envelope
			DatasetVersion  string    `json:"dataset_version"`
			InstrumentID    string    `json:"instrument_id"`
			AsofTime        time.Time `json:"asof_time"`
			RealizedReturn  float64   `json:"realized_return"`
			BenchmarkReturn *float64  `json:"benchmark_return"`
		}
		if err := strictUnmarshalInto(raw, &body, false); err != nil {
			return nil, err
		}
		return domain.MarketOutcomeIngestedEvent{
			Env:             body.Envelope,
			DatasetVersion:  body.DatasetVersion,
			InstrumentID:    body.InstrumentID,
			AsofTime:        body.AsofTime,
			RealizedReturn:  body.RealizedReturn,
			BenchmarkReturn: body.BenchmarkReturn,
		}, nil
	}
	return nil, fmt.Errorf("unhandled event type %q", t)
}

// strictUnmarshalInto decodes data into target with unknown top-level
// fields rejected (the nested schema validation already enforced
// unknown-field rejection at every deeper level). allowBestEffort
// suppresses the error return for a throwaway envelope-only peek.
func strictUnmarshalInto(data []byte, target any, allowBestEffort bool) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if allowBestEffort {
			return nil
		}
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if allowBestEffort {
			return nil
		}
		return fmt.Errorf("unexpected trailing JSON payload")
	}
	return nil
}
