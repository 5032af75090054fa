package batchaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DhavalThkkar/langfuse/pkg/queue"
)

const workerErrorBackoff = time.Second

// Worker consumes batch-action messages and runs them through the processor.
type Worker struct {
	queue       queue.Queue
	jobs        JobStore
	resolver    *Resolver
	rows        RowSource
	processor   *Processor
	normalizer  Normalizer
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewWorker creates a worker reading from q.
func NewWorker(q queue.Queue, jobs JobStore, resolver *Resolver, rows RowSource, processor *Processor, pollTimeout time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Worker{
		queue:       q,
		jobs:        jobs,
		resolver:    resolver,
		rows:        rows,
		processor:   processor,
		normalizer:  EventsRowNormalizer{},
		pollTimeout: pollTimeout,
		logger:      logger.With("component", "worker"),
	}
}

// WithNormalizer sets the normalizer matching the worker's row source.
func (w *Worker) WithNormalizer(n Normalizer) *Worker {
	w.normalizer = n
	return w
}

// Run handles messages until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started", "poll_timeout", w.pollTimeout)
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := w.queue.Pop(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			w.logger.ErrorContext(ctx, "failed to pop batch action", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(workerErrorBackoff):
			}
			continue
		}
		if msg == nil {
			continue
		}

		if err := w.Handle(ctx, msg); err != nil {
			w.logger.ErrorContext(ctx, "failed to handle batch action",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}
}

// Handle runs one batch-action message. Messages for jobs that already
// finished are skipped.
func (w *Worker) Handle(ctx context.Context, msg *queue.Message) error {
	if msg.Name != JobBatchActionProcessing {
		w.logger.WarnContext(ctx, "ignoring unknown message", "name", msg.Name, "message_id", msg.ID)
		return nil
	}

	var m BatchActionMessage
	if err := msg.Decode(&m); err != nil {
		return err
	}
	logger := w.logger.With("project_id", m.ProjectID, "batch_action_id", m.BatchActionID)

	job, err := w.jobs.Get(ctx, m.BatchActionID)
	if err != nil {
		return fmt.Errorf("failed to load batch action: %w", err)
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, m.BatchActionID)
	}
	if job.Status.IsTerminal() {
		logger.InfoContext(ctx, "skipping finished batch action", "status", job.Status)
		return nil
	}
	if m.ActionID != ActionObservationRunEvaluation {
		return w.reject(ctx, job.ID, fmt.Errorf("unsupported batch action %q", m.ActionID))
	}

	configs, err := w.resolver.ResolveForBatch(ctx, m.ProjectID, m.Config.IDs())
	if err != nil {
		if IsValidationError(err) {
			logger.WarnContext(ctx, "evaluators no longer eligible", "error", err)
			return w.reject(ctx, job.ID, err)
		}
		return err
	}

	rows, err := w.rows.Stream(ctx, SelectionQuery{
		ProjectID:       m.ProjectID,
		Query:           m.Query,
		CutoffCreatedAt: m.CutoffCreatedAt,
	})
	if err != nil {
		if IsValidationError(err) {
			return w.reject(ctx, job.ID, err)
		}
		return fmt.Errorf("failed to open row stream: %w", err)
	}

	return w.processor.Process(ctx, ProcessParams{
		ProjectID:     m.ProjectID,
		BatchActionID: m.BatchActionID,
		Config:        m.Config,
		Evaluators:    configs,
		Rows:          rows,
		Normalizer:    w.normalizer,
	})
}

// reject finishes a job as FAILED with cause as its log.
func (w *Worker) reject(ctx context.Context, id string, cause error) error {
	failed := StatusFailed
	msg := cause.Error()
	now := time.Now().UTC()
	if err := w.jobs.Update(ctx, id, JobUpdate{Status: &failed, Log: &msg, FinishedAt: &now}); err != nil {
		return fmt.Errorf("failed to mark batch action failed: %w", err)
	}
	return nil
}
