// Package batchaction runs configured evaluators over historical observation
// events as an asynchronous batch job.
//
// A request creates a QUEUED batch action and enqueues it. A worker resolves
// the evaluator configs, streams the matching event rows, normalizes each row
// into an ObservationForEval and schedules one evaluation per record per
// evaluator with live-traffic targeting bypassed. Progress and the terminal
// status are persisted on the batch action record.
package batchaction

import (
	"embed"
	"fmt"
	"time"
)

// Migrations holds the schema for batch actions, evaluator configs and events.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"

// ActionType identifies the kind of batch action.
type ActionType string

const (
	// ActionObservationRunEvaluation runs evaluators over selected observations.
	ActionObservationRunEvaluation ActionType = "observation-run-evaluation"
)

// TableObservations is the only table batch evaluations select from.
const TableObservations = "observations"

// BatchAction is one requested historical evaluation run.
type BatchAction struct {
	ID             string              `json:"id"`
	ProjectID      string              `json:"projectId"`
	UserID         string              `json:"userId"`
	ActionType     ActionType          `json:"actionType"`
	TableName      string              `json:"tableName"`
	Query          Query               `json:"query"`
	Config         RunEvaluationConfig `json:"config"`
	Status         Status              `json:"status"`
	TotalCount     int                 `json:"totalCount"`
	ProcessedCount int                 `json:"processedCount"`
	FailedCount    int                 `json:"failedCount"`
	Log            *string             `json:"log"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	FinishedAt     *time.Time          `json:"finishedAt"`
}

// Copy returns a deep copy of the batch action.
func (b *BatchAction) Copy() *BatchAction {
	if b == nil {
		return nil
	}
	c := *b
	c.Query = b.Query.Copy()
	c.Config.Evaluators = append([]EvaluatorRef(nil), b.Config.Evaluators...)
	if b.Log != nil {
		l := *b.Log
		c.Log = &l
	}
	if b.FinishedAt != nil {
		f := *b.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}

// Query is the caller's selection over the events table.
type Query struct {
	Filter      []FilterCondition `json:"filter"`
	SearchQuery string            `json:"searchQuery,omitempty"`
	SearchType  []SearchType      `json:"searchType,omitempty"`
}

// Copy returns a copy with its own slices.
func (q Query) Copy() Query {
	q.Filter = append([]FilterCondition(nil), q.Filter...)
	q.SearchType = append([]SearchType(nil), q.SearchType...)
	return q
}

// FilterCondition is one column predicate. Value holds a string, number,
// RFC 3339 timestamp or list of strings depending on Type.
type FilterCondition struct {
	Column   string `json:"column"`
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Key      string `json:"key,omitempty"`
}

// EvaluatorRef names one evaluator selected for a run.
type EvaluatorRef struct {
	EvaluatorConfigID string `json:"evaluatorConfigId"`
	EvaluatorName     string `json:"evaluatorName"`
}

// RunEvaluationConfig is the ordered evaluator selection of a run.
type RunEvaluationConfig struct {
	Evaluators []EvaluatorRef `json:"evaluators"`
}

// Validate checks that at least one evaluator is present, every name is
// non-empty and ids are unique.
func (c RunEvaluationConfig) Validate() error {
	if len(c.Evaluators) == 0 {
		return fmt.Errorf("%w: at least one evaluator is required", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Evaluators))
	for i, e := range c.Evaluators {
		if e.EvaluatorConfigID == "" {
			return fmt.Errorf("%w: evaluator %d has no config id", ErrInvalidConfig, i)
		}
		if e.EvaluatorName == "" {
			return fmt.Errorf("%w: evaluator %s has no name", ErrInvalidConfig, e.EvaluatorConfigID)
		}
		if _, dup := seen[e.EvaluatorConfigID]; dup {
			return fmt.Errorf("%w: evaluator %s is listed twice", ErrInvalidConfig, e.EvaluatorConfigID)
		}
		seen[e.EvaluatorConfigID] = struct{}{}
	}
	return nil
}

// IDs returns the evaluator config ids in order.
func (c RunEvaluationConfig) IDs() []string {
	ids := make([]string, len(c.Evaluators))
	for i, e := range c.Evaluators {
		ids[i] = e.EvaluatorConfigID
	}
	return ids
}

// Names returns the evaluator names in order.
func (c RunEvaluationConfig) Names() []string {
	names := make([]string, len(c.Evaluators))
	for i, e := range c.Evaluators {
		names[i] = e.EvaluatorName
	}
	return names
}

// TargetObject is the scope an evaluator config applies to.
type TargetObject string

const (
	TargetEvent      TargetObject = "event"
	TargetExperiment TargetObject = "experiment"
	TargetTrace      TargetObject = "trace"
	TargetDataset    TargetObject = "dataset"
)

// ConfigStatus is the lifecycle status of an evaluator config.
type ConfigStatus string

const (
	ConfigActive   ConfigStatus = "ACTIVE"
	ConfigInactive ConfigStatus = "INACTIVE"
)

// Time scopes an evaluator config can run on.
const (
	TimeScopeNew      = "NEW"
	TimeScopeExisting = "EXISTING"
)

// VariableMapping binds a template variable to an observation field.
type VariableMapping struct {
	TemplateVariable string `json:"templateVariable"`
	SelectedColumnID string `json:"selectedColumnId"`
	JSONSelector     string `json:"jsonSelector,omitempty"`
}

// EvaluatorConfig is a stored evaluator: a template bound to a target scope
// and a live-traffic filter and sampling rate.
type EvaluatorConfig struct {
	ID              string            `json:"id"`
	ProjectID       string            `json:"projectId"`
	Filter          []FilterCondition `json:"filter"`
	Sampling        float64           `json:"sampling"`
	EvalTemplateID  string            `json:"evalTemplateId"`
	ScoreName       string            `json:"scoreName"`
	TargetObject    TargetObject      `json:"targetObject"`
	VariableMapping []VariableMapping `json:"variableMapping"`
	Status          ConfigStatus      `json:"status"`
	TimeScope       []string          `json:"timeScope"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// HasTimeScope reports whether scope is one of the config's time scopes.
func (c *EvaluatorConfig) HasTimeScope(scope string) bool {
	for _, s := range c.TimeScope {
		if s == scope {
			return true
		}
	}
	return false
}

// BatchActionMessage is the queue payload that hands a batch action to a worker.
type BatchActionMessage struct {
	BatchActionID   string              `json:"batchActionId"`
	ProjectID       string              `json:"projectId"`
	ActionID        ActionType          `json:"actionId"`
	TableName       string              `json:"tableName"`
	CutoffCreatedAt time.Time           `json:"cutoffCreatedAt"`
	Query           Query               `json:"query"`
	Config          RunEvaluationConfig `json:"config"`
}

// Queue job names.
const (
	JobBatchActionProcessing = "batch-action-processing-job"
	JobEvaluationExecution   = "evaluation-execution-job"
)
