package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Definition describes one callable tool: its name and the JSON schema
// of its input. The seven definitions below are the stable tool-call
// protocol surface; agents discover them via List and invoke them via
// Call.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// envelope is the tool-call response shape: the HTTP envelope minus the
// HTTP-specific headers, JSON-encoded into a single text payload.
type envelope struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message,omitempty"`
	Data        any      `json:"data,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Cached      bool     `json:"cached"`
	RetrievalMS int64    `json:"retrieval_time_ms"`
	Timestamp   string   `json:"timestamp"`
}

func schema(s string) json.RawMessage { return json.RawMessage(s) }

// Definitions returns the seven tool definitions.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        "search-runbooks",
			Description: "Find runbooks matching an alert signature (alert type, severity, affected systems).",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"alert_type": {"type": "string"},
					"severity": {"type": "string", "enum": ["info", "low", "medium", "high", "critical"]},
					"affected_systems": {"type": "array", "items": {"type": "string"}},
					"context": {"type": "object", "additionalProperties": {"type": "string"}},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100}
				},
				"required": ["alert_type", "severity", "affected_systems"]
			}`),
		},
		{
			Name:        "get-decision-tree",
			Description: "Retrieve the decision tree embedded in a runbook, optionally reordered for a scenario.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"runbook_id": {"type": "string"},
					"scenario": {"type": "string"}
				},
				"required": ["runbook_id"]
			}`),
		},
		{
			Name:        "get-procedure",
			Description: "Retrieve one procedure step by id (format: <runbook-id>_<step-name>) with its related steps.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"procedure_id": {"type": "string"}
				},
				"required": ["procedure_id"]
			}`),
		},
		{
			Name:        "get-escalation-path",
			Description: "Resolve escalation contacts and procedure for a severity, honoring business hours and failed attempts.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"severity": {"type": "string", "enum": ["info", "low", "medium", "high", "critical"]},
					"system": {"type": "string"},
					"business_hours": {"type": "boolean"},
					"failed_attempts": {"type": "integer", "minimum": 0}
				},
				"required": ["severity"]
			}`),
		},
		{
			Name:        "list-sources",
			Description: "List every configured documentation source with health and metadata.",
			InputSchema: schema(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        "search-knowledge-base",
			Description: "Free-text search across all documentation sources.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"categories": {"type": "array", "items": {"type": "string"}},
					"max_results": {"type": "integer", "minimum": 1, "maximum": 100}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "record-resolution-feedback",
			Description: "Record the outcome of applying a runbook procedure to an incident.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"runbook_id": {"type": "string"},
					"procedure_id": {"type": "string"},
					"outcome": {"type": "string", "enum": ["success", "partial", "failure"]},
					"resolution_time_minutes": {"type": "number", "minimum": 0},
					"notes": {"type": "string"}
				},
				"required": ["runbook_id", "procedure_id", "outcome", "resolution_time_minutes"]
			}`),
		},
	}
}

// Call dispatches one tool invocation by name. The return value is a
// single text payload: the JSON-encoded result envelope. Unknown tool
// names and malformed inputs come back as error envelopes, not Go
// errors, so an agent always receives a parseable payload.
func (t *Tools) Call(ctx context.Context, name string, rawInput json.RawMessage) string {
	switch name {
	case "search-runbooks":
		var in SearchRunbooksInput
		if msg := decodeInput(rawInput, &in); msg != "" {
			return errorEnvelope(msg)
		}
		payload, m, err := t.SearchRunbooks(ctx, in)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		var conf *float64
		if len(payload.ConfidenceScores) > 0 {
			conf = &payload.ConfidenceScores[0]
		}
		return successEnvelope(payload, m, conf)

	case "get-decision-tree":
		var in struct {
			RunbookID string `json:"runbook_id"`
			Scenario  string `json:"scenario"`
		}
		if msg := decodeInput(rawInput, &in); msg != "" {
			return errorEnvelope(msg)
		}
		if in.RunbookID == "" {
			return errorEnvelope("runbook_id is required")
		}
		payload, m, err := t.GetDecisionTree(ctx, in.RunbookID, in.Scenario)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		return successEnvelope(payload, m, &payload.Confidence)

	case "get-procedure":
		var in struct {
			ProcedureID string `json:"procedure_id"`
		}
		if msg := decodeInput(rawInput, &in); msg != "" {
			return errorEnvelope(msg)
		}
		if in.ProcedureID == "" {
			return errorEnvelope("procedure_id is required")
		}
		payload, m, err := t.GetProcedure(ctx, in.ProcedureID)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		return successEnvelope(payload, m, &payload.Confidence)

	case "get-escalation-path":
		var in EscalationInput
		if msg := decodeInput(rawInput, &in); msg != "" {
			return errorEnvelope(msg)
		}
		payload, m, err := t.GetEscalationPath(ctx, in)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		return successEnvelope(payload, m, nil)

	case "list-sources":
		payload, m, err := t.ListSources(ctx)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		return successEnvelope(payload, m, nil)

	case "search-knowledge-base":
		var in SearchKnowledgeBaseInput
		if msg := decodeInput(rawInput, &in); msg != "" {
			return errorEnvelope(msg)
		}
		if in.Query == "" {
			return errorEnvelope("query is required")
		}
		payload, m, err := t.SearchKnowledgeBase(ctx, in)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		return successEnvelope(payload, m, &payload.AggregateConfidence)

	case "record-resolution-feedback":
		var in FeedbackInput
		if msg := decodeInput(rawInput, &in); msg != "" {
			return errorEnvelope(msg)
		}
		if in.RunbookID == "" || in.ProcedureID == "" || in.Outcome == "" {
			return errorEnvelope("runbook_id, procedure_id, and outcome are required")
		}
		payload, m, err := t.RecordResolutionFeedback(ctx, in)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		return successEnvelope(payload, m, nil)

	default:
		return errorEnvelope("unknown tool: " + name)
	}
}

func decodeInput(raw json.RawMessage, dst any) string {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return "input is not valid JSON for this tool"
	}
	return ""
}

func successEnvelope(data any, m Meta, confidence *float64) string {
	return encodeEnvelope(envelope{
		Success:     true,
		Data:        data,
		Confidence:  confidence,
		Cached:      m.Cached,
		RetrievalMS: m.RetrievalMS,
		Timestamp:   m.Timestamp.Format(time.RFC3339),
	})
}

func errorEnvelope(message string) string {
	return encodeEnvelope(envelope{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func encodeEnvelope(e envelope) string {
	out, err := json.Marshal(e)
	if err != nil {
		fallback, _ := json.Marshal(envelope{
			Success:   false,
			Message:   "failed to encode result",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return string(fallback)
	}
	return string(out)
}
