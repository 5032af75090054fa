package batchaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/DhavalThkkar/langfuse/pkg/queue"
)

// ScheduleRequest asks for evaluation jobs for one observation.
type ScheduleRequest struct {
	Observation *ObservationForEval
	Configs     []*EvaluatorConfig
	// IgnoreConfigTargeting skips each config's filter and sampling. Batch
	// runs set it because the user's own query already chose the rows.
	IgnoreConfigTargeting bool
}

// Scheduler creates evaluation jobs for observations.
type Scheduler interface {
	Schedule(ctx context.Context, req ScheduleRequest) error
}

// EvalTask is the payload of an evaluation-execution message.
type EvalTask struct {
	ID                string              `json:"id"`
	ProjectID         string              `json:"projectId"`
	EvaluatorConfigID string              `json:"evaluatorConfigId"`
	EvalTemplateID    string              `json:"evalTemplateId"`
	ScoreName         string              `json:"scoreName"`
	VariableMapping   []VariableMapping   `json:"variableMapping"`
	Observation       *ObservationForEval `json:"observation"`
	CreatedAt         time.Time           `json:"createdAt"`
}

// evalTaskID is stable per (project, config, trace, observation) so a
// re-delivered batch message does not fan out duplicate executions.
func evalTaskID(projectID, configID string, obs *ObservationForEval) string {
	name := projectID + ":" + configID + ":" + obs.TraceID + ":" + obs.SpanID
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// QueueScheduler pushes one EvalTask per matching config onto a queue.
type QueueScheduler struct {
	queue     queue.Queue
	targeting *Targeting
	logger    *slog.Logger
	random    func() float64
	now       func() time.Time
}

// NewQueueScheduler creates a scheduler that enqueues onto q.
func NewQueueScheduler(q queue.Queue, targeting *Targeting, logger *slog.Logger) *QueueScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueScheduler{
		queue:     q,
		targeting: targeting,
		logger:    logger.With("component", "scheduler"),
		random:    rand.Float64,
		now:       time.Now,
	}
}

// Schedule enqueues an evaluation for every config in req. Configs that
// fail to enqueue do not stop the others; their errors are joined.
func (s *QueueScheduler) Schedule(ctx context.Context, req ScheduleRequest) error {
	if req.Observation == nil {
		return fmt.Errorf("%w: nil observation", ErrInvalidRow)
	}

	var errs []error
	for _, cfg := range req.Configs {
		if !req.IgnoreConfigTargeting {
			ok, err := s.targets(cfg, req.Observation)
			if err != nil {
				errs = append(errs, fmt.Errorf("evaluator %s: %w", cfg.ID, err))
				continue
			}
			if !ok {
				continue
			}
		}

		task := EvalTask{
			ID:                evalTaskID(req.Observation.ProjectID, cfg.ID, req.Observation),
			ProjectID:         req.Observation.ProjectID,
			EvaluatorConfigID: cfg.ID,
			EvalTemplateID:    cfg.EvalTemplateID,
			ScoreName:         cfg.ScoreName,
			VariableMapping:   cfg.VariableMapping,
			Observation:       req.Observation,
			CreatedAt:         s.now().UTC(),
		}
		msg, err := queue.NewMessage(task.ID, JobEvaluationExecution, task)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluator %s: %w", cfg.ID, err))
			continue
		}
		if err := s.queue.Push(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("evaluator %s: failed to enqueue evaluation: %w", cfg.ID, err))
			continue
		}

		s.logger.DebugContext(ctx, "scheduled evaluation",
			"project_id", task.ProjectID,
			"evaluator_config_id", cfg.ID,
			"observation_id", req.Observation.SpanID,
		)
	}
	return errors.Join(errs...)
}

// targets applies the live-traffic filter and sampling rate of cfg.
func (s *QueueScheduler) targets(cfg *EvaluatorConfig, obs *ObservationForEval) (bool, error) {
	if s.targeting != nil {
		ok, err := s.targeting.Matches(cfg.Filter, obs)
		if err != nil || !ok {
			return false, err
		}
	}
	if cfg.Sampling > 0 && cfg.Sampling < 1 && s.random() >= cfg.Sampling {
		return false, nil
	}
	return true, nil
}
