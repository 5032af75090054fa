package batchaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DhavalThkkar/langfuse/pkg/queue"
)

// ServiceConfig holds request-time limits.
type ServiceConfig struct {
	// EventsTable reports whether historical event evaluation is enabled.
	EventsTable bool
	// MaxHistoricEvals caps how many rows a single action may select.
	MaxHistoricEvals int
}

// Service accepts batch evaluation requests and serves their status.
type Service struct {
	jobs     JobStore
	configs  ConfigStore
	resolver *Resolver
	rows     RowSource
	queue    queue.Queue
	cfg      ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a service. Accepted actions are pushed onto q.
func NewService(jobs JobStore, configs ConfigStore, resolver *Resolver, rows RowSource, q queue.Queue, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:     jobs,
		configs:  configs,
		resolver: resolver,
		rows:     rows,
		queue:    q,
		cfg:      cfg,
		logger:   logger.With("component", "service"),
		now:      time.Now,
	}
}

// CreateRunEvaluationInput is a request to evaluate selected observations.
type CreateRunEvaluationInput struct {
	ProjectID string              `json:"projectId"`
	UserID    string              `json:"userId"`
	Query     Query               `json:"query"`
	Config    RunEvaluationConfig `json:"config"`
}

// CreateRunEvaluationAction validates the request, records a QUEUED batch
// action and enqueues it for a worker.
func (s *Service) CreateRunEvaluationAction(ctx context.Context, in CreateRunEvaluationInput) (*BatchAction, error) {
	if !s.cfg.EventsTable {
		return nil, ErrEventsTableDisabled
	}
	if in.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidConfig)
	}
	if err := in.Config.Validate(); err != nil {
		return nil, err
	}

	configs, err := s.resolver.ResolveForRequest(ctx, in.ProjectID, in.Config.IDs())
	if err != nil {
		return nil, err
	}

	cutoff := s.now().UTC()
	sel := SelectionQuery{ProjectID: in.ProjectID, Query: in.Query, CutoffCreatedAt: cutoff}
	count, err := s.rows.Count(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to count observations: %w", err)
	}
	if s.cfg.MaxHistoricEvals > 0 && count > int64(s.cfg.MaxHistoricEvals) {
		return nil, &TooManyObservationsError{Limit: s.cfg.MaxHistoricEvals, Count: count}
	}

	evaluators := make([]EvaluatorRef, len(configs))
	for i, cfg := range configs {
		evaluators[i] = EvaluatorRef{EvaluatorConfigID: cfg.ID, EvaluatorName: cfg.ScoreName}
	}

	job := &BatchAction{
		ID:         uuid.NewString(),
		ProjectID:  in.ProjectID,
		UserID:     in.UserID,
		ActionType: ActionObservationRunEvaluation,
		TableName:  TableObservations,
		Query:      in.Query.Copy(),
		Config:     RunEvaluationConfig{Evaluators: evaluators},
		Status:     StatusQueued,
		CreatedAt:  cutoff,
		UpdatedAt:  cutoff,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create batch action: %w", err)
	}

	msg, err := queue.NewMessage(job.ID, JobBatchActionProcessing, BatchActionMessage{
		BatchActionID:   job.ID,
		ProjectID:       job.ProjectID,
		ActionID:        job.ActionType,
		TableName:       job.TableName,
		CutoffCreatedAt: cutoff,
		Query:           job.Query,
		Config:          job.Config,
	})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue batch action: %w", err)
	}

	s.logger.InfoContext(ctx, "queued observation-run-evaluation action",
		"project_id", job.ProjectID,
		"batch_action_id", job.ID,
		"evaluators", len(evaluators),
		"observations", count,
	)
	return job, nil
}

// GetBatchAction returns a project's batch action or ErrJobNotFound.
func (s *Service) GetBatchAction(ctx context.Context, projectID, id string) (*BatchAction, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch action: %w", err)
	}
	if job == nil || job.ProjectID != projectID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListBatchActions returns one page (0-based) of a project's batch actions
// and the total number of actions.
func (s *Service) ListBatchActions(ctx context.Context, projectID string, page, limit int) ([]*BatchAction, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if page < 0 {
		page = 0
	}
	jobs, total, err := s.jobs.List(ctx, ListQuery{ProjectID: projectID, Limit: limit, Offset: page * limit})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batch actions: %w", err)
	}
	return jobs, total, nil
}

// ListEvaluators returns every evaluator config of a project.
func (s *Service) ListEvaluators(ctx context.Context, projectID string) ([]*EvaluatorConfig, error) {
	configs, err := s.configs.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluators: %w", err)
	}
	return configs, nil
}
