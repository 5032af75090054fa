package batchaction

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Normalizer converts one raw exported row into an ObservationForEval.
// The owner of a row stream picks the implementation matching its shape.
type Normalizer interface {
	Normalize(raw any, projectID string) (*ObservationForEval, error)
}

// rowFields names the source key of every recognized semantic field.
// Keys not listed here are dropped.
type rowFields struct {
	id, traceID, parentID                       string
	typ, name, environment, version, level      string
	statusMessage, traceName, userID, sessionID string
	tags, release, modelName, modelParameters   string
	promptID, promptName, promptVersion         string
	providedUsage, usage                        string
	providedCost, cost, totalCost               string
	toolDefinitions, toolCalls, toolCallNames   string
	input, output, metadata                     string
}

var eventsRowFields = rowFields{
	id: "id", traceID: "trace_id", parentID: "parent_observation_id",
	typ: "type", name: "name", environment: "environment", version: "version", level: "level",
	statusMessage: "status_message", traceName: "trace_name", userID: "user_id", sessionID: "session_id",
	tags: "tags", release: "release", modelName: "provided_model_name", modelParameters: "model_parameters",
	promptID: "prompt_id", promptName: "prompt_name", promptVersion: "prompt_version",
	providedUsage: "provided_usage_details", usage: "usage_details",
	providedCost: "provided_cost_details", cost: "cost_details", totalCost: "total_cost",
	toolDefinitions: "tool_definitions", toolCalls: "tool_calls", toolCallNames: "tool_call_names",
	input: "input", output: "output", metadata: "metadata",
}

var exportRowFields = rowFields{
	id: "id", traceID: "traceId", parentID: "parentObservationId",
	typ: "type", name: "name", environment: "environment", version: "version", level: "level",
	statusMessage: "statusMessage", traceName: "traceName", userID: "userId", sessionID: "sessionId",
	tags: "tags", release: "release", modelName: "providedModelName", modelParameters: "modelParameters",
	promptID: "promptId", promptName: "promptName", promptVersion: "promptVersion",
	providedUsage: "providedUsageDetails", usage: "usageDetails",
	providedCost: "providedCostDetails", cost: "costDetails", totalCost: "totalCost",
	toolDefinitions: "toolDefinitions", toolCalls: "toolCalls", toolCallNames: "toolCallNames",
	input: "input", output: "output", metadata: "metadata",
}

// EventsRowNormalizer maps snake_case rows from the events table.
type EventsRowNormalizer struct{}

// Normalize implements Normalizer.
func (EventsRowNormalizer) Normalize(raw any, projectID string) (*ObservationForEval, error) {
	return normalizeRow(eventsRowFields, raw, projectID)
}

// ExportRowNormalizer maps camelCase rows from JSON-lines observation exports.
type ExportRowNormalizer struct{}

// Normalize implements Normalizer.
func (ExportRowNormalizer) Normalize(raw any, projectID string) (*ObservationForEval, error) {
	return normalizeRow(exportRowFields, raw, projectID)
}

// NormalizerFor returns the normalizer for a named row format.
func NormalizerFor(format string) (Normalizer, bool) {
	switch format {
	case "events", "":
		return EventsRowNormalizer{}, true
	case "export":
		return ExportRowNormalizer{}, true
	default:
		return nil, false
	}
}

func normalizeRow(f rowFields, raw any, projectID string) (*ObservationForEval, error) {
	row, ok := raw.(map[string]any)
	if !ok || row == nil {
		return nil, ErrInvalidRow
	}

	id, _ := row[f.id].(string)
	traceID, _ := row[f.traceID].(string)
	if id == "" || traceID == "" {
		return nil, ErrMissingIdentifiers
	}

	name := ""
	if s := optString(row, f.name); s != nil {
		name = *s
	}
	environment := "default"
	if s := optString(row, f.environment); s != nil {
		environment = *s
	}

	providedUsageSrc := firstPresent(row, f.providedUsage, f.usage)
	providedCostSrc := firstPresent(row, f.providedCost, f.cost)
	total, hasTotal := toNumber(row[f.totalCost])

	providedCost := toNumericRecord(providedCostSrc)
	cost := toNumericRecord(row[f.cost])
	if hasTotal {
		providedCost["total"] = &total
		t := total
		cost["total"] = &t
	}

	toolCalls, _ := row[f.toolCalls].([]any)
	if toolCalls == nil {
		toolCalls = []any{}
	}
	toolDefinitions := toObjectRecord(row[f.toolDefinitions])
	if toolDefinitions == nil {
		toolDefinitions = map[string]any{}
	}

	return &ObservationForEval{
		SpanID:        id,
		TraceID:       traceID,
		ProjectID:     projectID,
		ParentSpanID:  optString(row, f.parentID),
		Type:          optString(row, f.typ),
		Name:          name,
		Environment:   environment,
		Version:       optString(row, f.version),
		Level:         optString(row, f.level),
		StatusMessage: optString(row, f.statusMessage),

		TraceName: optString(row, f.traceName),
		UserID:    optString(row, f.userID),
		SessionID: optString(row, f.sessionID),
		Tags:      toStringArray(row[f.tags]),
		Release:   optString(row, f.release),

		ProvidedModelName: optString(row, f.modelName),
		ModelParameters:   row[f.modelParameters],
		PromptID:          optString(row, f.promptID),
		PromptName:        optString(row, f.promptName),
		PromptVersion:     promptVersion(row[f.promptVersion]),

		ProvidedUsageDetails: toNumericRecord(providedUsageSrc),
		ProvidedCostDetails:  providedCost,
		UsageDetails:         toNumericRecord(row[f.usage]),
		CostDetails:          cost,

		ToolDefinitions: toolDefinitions,
		ToolCalls:       toolCalls,
		ToolCallNames:   toStringArray(row[f.toolCallNames]),

		Input:    row[f.input],
		Output:   row[f.output],
		Metadata: toObjectRecord(row[f.metadata]),
	}, nil
}

// optString returns the string at key, or nil when absent, null or not a string.
func optString(row map[string]any, key string) *string {
	s, ok := row[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// firstPresent returns the value of the first key that is present and non-null.
func firstPresent(row map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// toNumericRecord keeps numbers and nulls, parses numeric strings and drops
// everything else. Non-object input yields an empty map.
func toNumericRecord(value any) NumericDetails {
	out := NumericDetails{}
	obj, ok := value.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range obj {
		if v == nil {
			out[k] = nil
			continue
		}
		if n, ok := toNumber(v); ok {
			out[k] = &n
		}
	}
	return out
}

// toNumber accepts native numbers and numeric strings. Non-finite values are
// rejected because they cannot be encoded as JSON.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toStringArray(value any) []string {
	out := []string{}
	items, ok := value.([]any)
	if !ok {
		if strs, ok := value.([]string); ok {
			return append(out, strs...)
		}
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// toObjectRecord returns value when it is a JSON object, nil otherwise.
func toObjectRecord(value any) map[string]any {
	obj, ok := value.(map[string]any)
	if !ok || obj == nil {
		return nil
	}
	return obj
}

func promptVersion(v any) any {
	switch n := v.(type) {
	case string, float64, float32, int, int32, int64, uint64, json.Number:
		return n
	default:
		return nil
	}
}
