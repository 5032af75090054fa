package batchaction

// NumericDetails maps usage or cost keys to numbers. A nil value is an
// explicit null carried over from the source row.
type NumericDetails map[string]*float64

// ObservationForEval is the canonical record handed to the evaluation
// scheduler. Field names follow the live-ingestion schema.
type ObservationForEval struct {
	SpanID        string  `json:"span_id"`
	TraceID       string  `json:"trace_id"`
	ProjectID     string  `json:"project_id"`
	ParentSpanID  *string `json:"parent_span_id"`
	Type          *string `json:"type,omitempty"`
	Name          string  `json:"name"`
	Environment   string  `json:"environment"`
	Version       *string `json:"version,omitempty"`
	Level         *string `json:"level,omitempty"`
	StatusMessage *string `json:"status_message,omitempty"`

	TraceName *string  `json:"trace_name,omitempty"`
	UserID    *string  `json:"user_id,omitempty"`
	SessionID *string  `json:"session_id,omitempty"`
	Tags      []string `json:"tags"`
	Release   *string  `json:"release,omitempty"`

	ProvidedModelName *string `json:"provided_model_name,omitempty"`
	ModelParameters   any     `json:"model_parameters"`
	PromptID          *string `json:"prompt_id,omitempty"`
	PromptName        *string `json:"prompt_name,omitempty"`
	// PromptVersion is a number or a string, nil otherwise.
	PromptVersion any `json:"prompt_version"`

	ProvidedUsageDetails NumericDetails `json:"provided_usage_details"`
	ProvidedCostDetails  NumericDetails `json:"provided_cost_details"`
	UsageDetails         NumericDetails `json:"usage_details"`
	CostDetails          NumericDetails `json:"cost_details"`

	// Event exports may not carry tool data. Evaluators reading tool
	// variables then see empty values.
	ToolDefinitions map[string]any `json:"tool_definitions"`
	ToolCalls       []any          `json:"tool_calls"`
	ToolCallNames   []string       `json:"tool_call_names"`

	// Experiment linkage is always null on the historical path.
	ExperimentID                 *string `json:"experiment_id"`
	ExperimentName               *string `json:"experiment_name"`
	ExperimentDescription        *string `json:"experiment_description"`
	ExperimentDatasetID          *string `json:"experiment_dataset_id"`
	ExperimentItemID             *string `json:"experiment_item_id"`
	ExperimentItemExpectedOutput any     `json:"experiment_item_expected_output"`
	ExperimentItemRootSpanID     *string `json:"experiment_item_root_span_id"`

	Input  any `json:"input"`
	Output any `json:"output"`
	// Metadata is omitted, not null, when the source row has none.
	Metadata map[string]any `json:"metadata,omitzero"`
}
