package schema

// Each schema below is self-contained (envelope fields inlined into the
// per-type object) rather than composed via $ref, since the set of seven
// types is closed and small enough that duplication is cheaper than
// indirection. additionalProperties is false everywhere, at every nesting
// level that spec.md requires unknown-field rejection on.

const envelopeProps = `
		"schema_version": {"type": "string", "const": "v1"},
		"type": {"type": "string"},
		"event_id": {"type": "string", "format": "uuid"},
		"tenant_id": {"type": "string", "minLength": 1},
		"orchestration_run_id": {"type": "string", "minLength": 1},
		"workflow_id": {"type": "string", "minLength": 1},
		"query_id": {"type": "string"},
		"request_timestamp": {"type": "string", "format": "date-time"},
		"event_time": {"type": "string", "format": "date-time"}`

const envelopeRequired = `"schema_version", "type", "event_id", "tenant_id", "orchestration_run_id", "workflow_id", "event_time"`

var schemaSources = map[string]string{
	"OrchestrationRunStarted": `{
	"type": "object",
	"additionalProperties": false,
	"required": [` + envelopeRequired + `, "query"],
	"properties": {` + envelopeProps + `,
		"query": {"type": "string"},
		"orchestrator_meta": {"type": "object"},
		"client_meta": {"type": "object"},
		"user_meta": {"type": "object"}
	}
}`,

	"OrchestrationRunCompleted": `{
	"type": "object",
	"additionalProperties": false,
	"required": [` + envelopeRequired + `, "status", "completed_at"],
	"properties": {` + envelopeProps + `,
		"status": {"type": "string", "enum": ["success", "error"]},
		"completed_at": {"type": "string", "format": "date-time"},
		"total_latency_ms": {"type": "integer", "minimum": 0},
		"error_code": {"type": "string"},
		"error_message": {"type": "string"}
	}
}`,

	"AgentRunStarted": `{
	"type": "object",
	"additionalProperties": false,
	"required": [` + envelopeRequired + `, "agent_run_id", "agent_id", "agent_version", "started_at"],
	"properties": {` + envelopeProps + `,
		"agent_run_id": {"type": "string", "format": "uuid"},
		"agent_id": {"type": "string", "minLength": 1},
		"agent_version": {"type": "string", "minLength": 1},
		"model": {"type": "string"},
		"config_hash": {"type": "string"},
		"parent_agent_run_id": {"type": "string"},
		"started_at": {"type": "string", "format": "date-time"}
	}
}`,

	"AgentRunCompleted": `{
	"type": "object",
	"additionalProperties": false,
	"required": [` + envelopeRequired + `, "agent_run_id", "completed_at", "metrics"],
	"properties": {` + envelopeProps + `,
		"agent_run_id": {"type": "string", "format": "uuid"},
		"completed_at": {"type": "string", "format": "date-time"},
		"output_summary": {"type": "string"},
		"output_uri": {"type": "string"},
		"metrics": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"latency_ms": {"type": "integer", "minimum": 0},
				"faithfulness": {"type": "number", "minimum": 0, "maximum": 1},
				"hallucination_flag": {"type": "boolean"},
				"coverage": {"type": "number", "minimum": 0, "maximum": 1},
				"confidence": {"type": "number", "minimum": 0, "maximum": 1}
			}
		}
	}
}`,

	"RetrievalContextAttached": `{
	"type": "object",
	"additionalProperties": false,
	"required": [` + envelopeRequired + `, "agent_run_id", "context_ref"],
	"properties": {` + envelopeProps + `,
		"agent_run_id": {"type": "string", "format": "uuid"},
		"context_ref": {"type": "string", "minLength": 1},
		"payload": {"type": "object"}
	}
}`,

	"SignalEmitted": `{
	"type": "object",
	"additionalProperties": false,
	"required": [` + envelopeRequired + `, "signal_id", "horizon", "instrument_universe", "signal_value"],
	"properties": {` + envelopeProps + `,
		"signal_id": {"type": "string", "format": "uuid"},
		"horizon": {"type": "string", "pattern": "^[0-9]+\\s*[dwmy]$"},
		"instrument_universe": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"additionalProperties": false,
				"required": ["id"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"weight": {"type": "number"}
				}
			}
		},
		"signal_value": {
			"type": "object",
			"additionalProperties": false,
			"required": ["kind"],
			"properties": {
				"kind": {"type": "string", "enum": ["scalar", "vector", "text"]},
				"scalar": {"type": "number"},
				"vector": {"type": "object"},
				"text": {"type": "string"}
			}
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"constraints": {"type": "object"}
	}
}`,

	"MarketOutcomeIngested": `{
	"type": "object",
	"additionalProperties": false,
	"required": [` + envelopeRequired + `, "dataset_version", "instrument_id", "asof_time", "realized_return"],
	"properties": {` + envelopeProps + `,
		"dataset_version": {"type": "string", "minLength": 1},
		"instrument_id": {"type": "string", "minLength": 1},
		"asof_time": {"type": "string", "format": "date-time"},
		"realized_return": {"type": "number"},
		"benchmark_return": {"type": "number"}
	}
}`,
}
