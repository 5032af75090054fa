package batchaction

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/DhavalThkkar/langfuse/pkg/config"
	"github.com/DhavalThkkar/langfuse/pkg/metrics"
)

// ExceptionTracker receives every per-record failure.
type ExceptionTracker interface {
	TraceException(ctx context.Context, err error)
}

// ProcessorConfig tunes batching.
type ProcessorConfig struct {
	BatchSize        int
	Concurrency      int
	MaxErrorLogLines int
}

// DefaultProcessorConfig returns the production batching limits.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:        100,
		Concurrency:      50,
		MaxErrorLogLines: 20,
	}
}

// ProcessorConfigFrom reads batching limits from the service config,
// falling back to defaults for unset values.
func ProcessorConfigFrom(b config.Batch) ProcessorConfig {
	cfg := DefaultProcessorConfig()
	if b.Size > 0 {
		cfg.BatchSize = b.Size
	}
	if b.Concurrency > 0 {
		cfg.Concurrency = b.Concurrency
	}
	if b.MaxErrorLogLines > 0 {
		cfg.MaxErrorLogLines = b.MaxErrorLogLines
	}
	return cfg
}

// ProcessParams describes one run of a batch action.
type ProcessParams struct {
	ProjectID     string
	BatchActionID string
	Config        RunEvaluationConfig
	Evaluators    []*EvaluatorConfig
	Rows          iter.Seq2[any, error]
	// Normalizer defaults to EventsRowNormalizer.
	Normalizer Normalizer
}

// Processor schedules evaluations for a stream of rows and records progress
// on the batch action. Only the orchestrating loop writes the job record.
type Processor struct {
	jobs      JobStore
	scheduler Scheduler
	tracker   ExceptionTracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       ProcessorConfig
	now       func() time.Time
}

// NewProcessor creates a processor. A nil tracker drops exception reports.
func NewProcessor(jobs JobStore, scheduler Scheduler, tracker ExceptionTracker, logger *slog.Logger, cfg ProcessorConfig) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultProcessorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxErrorLogLines < 0 {
		cfg.MaxErrorLogLines = 0
	}
	return &Processor{
		jobs:      jobs,
		scheduler: scheduler,
		tracker:   tracker,
		logger:    logger.With("component", "processor"),
		tracer:    otel.Tracer("batchaction"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithMetrics records batch and job outcomes on m.
func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.metrics = m
	return p
}

// progress is the running tally of one run.
type progress struct {
	total     int
	processed int
	failed    int
	lines     []string
}

// counts returns an update carrying a snapshot of the tally. Stores may
// hold on to the update, so it must not point into st.
func (st *progress) counts() JobUpdate {
	total, processed, failed := st.total, st.processed, st.failed
	return JobUpdate{
		TotalCount:     &total,
		ProcessedCount: &processed,
		FailedCount:    &failed,
	}
}

// Process runs the batch action to a terminal state. Per-record failures
// are recorded on the job and never returned. A non-nil error means the
// row stream or the job store failed and the job was left non-terminal.
func (p *Processor) Process(ctx context.Context, params ProcessParams) error {
	start := p.now()
	if params.Normalizer == nil {
		params.Normalizer = EventsRowNormalizer{}
	}

	ctx, span := p.tracer.Start(ctx, "batchaction.Process", trace.WithAttributes(
		attribute.String("project_id", params.ProjectID),
		attribute.String("batch_action_id", params.BatchActionID),
		attribute.Int("evaluators", len(params.Evaluators)),
	))
	defer span.End()

	logger := p.logger.With("project_id", params.ProjectID, "batch_action_id", params.BatchActionID)

	processing := StatusProcessing
	zero := 0
	if err := p.jobs.Update(ctx, params.BatchActionID, JobUpdate{
		Status:         &processing,
		TotalCount:     &zero,
		ProcessedCount: &zero,
		FailedCount:    &zero,
		ClearLog:       true,
	}); err != nil {
		return p.fail(span, fmt.Errorf("failed to mark batch action processing: %w", err))
	}

	var st progress
	batch := make([]any, 0, p.cfg.BatchSize)
	batchNum := 0

	for raw, err := range params.Rows {
		if err != nil {
			return p.fail(span, fmt.Errorf("failed to read rows: %w", err))
		}
		batch = append(batch, raw)
		st.total++
		if len(batch) < p.cfg.BatchSize {
			continue
		}
		if err := p.flush(ctx, params, &st, batch, batchNum); err != nil {
			return p.fail(span, err)
		}
		batch = batch[:0]
		batchNum++
	}
	if len(batch) > 0 {
		if err := p.flush(ctx, params, &st, batch, batchNum); err != nil {
			return p.fail(span, err)
		}
	}

	status := TerminalStatus(st.processed, st.failed)
	finished := p.now().UTC()
	update := st.counts()
	update.Status = &status
	update.FinishedAt = &finished
	if st.failed > 0 {
		summary := failureSummary(st.failed, params.Config, st.lines)
		update.Log = &summary
	} else {
		update.ClearLog = true
	}
	if err := p.jobs.Update(ctx, params.BatchActionID, update); err != nil {
		return p.fail(span, fmt.Errorf("failed to finish batch action: %w", err))
	}

	p.metrics.ObserveJob(string(status), p.now().Sub(start))
	span.SetAttributes(
		attribute.String("status", string(status)),
		attribute.Int("total", st.total),
		attribute.Int("processed", st.processed),
		attribute.Int("failed", st.failed),
	)

	logger.InfoContext(ctx, "completed observation-run-evaluation action",
		"status", status,
		"total", st.total,
		"processed", st.processed,
		"failed", st.failed,
		"duration", p.now().Sub(start),
	)
	return nil
}

// flush runs one batch to completion and persists progress.
func (p *Processor) flush(ctx context.Context, params ProcessParams, st *progress, batch []any, n int) error {
	ctx, span := p.tracer.Start(ctx, "batchaction.batch", trace.WithAttributes(
		attribute.Int("batch", n),
		attribute.Int("size", len(batch)),
	))
	defer span.End()

	errs := p.runBatch(ctx, params, batch)

	offset := st.total - len(batch)
	batchFailed := 0
	for i, err := range errs {
		if err == nil {
			st.processed++
			continue
		}
		st.failed++
		batchFailed++
		if len(st.lines) < p.cfg.MaxErrorLogLines {
			st.lines = append(st.lines, fmt.Sprintf("Row %d: %s", offset+i+1, errorMessage(err)))
		}
		if p.tracker != nil {
			p.tracker.TraceException(ctx, err)
		}
	}
	p.metrics.ObserveBatch(len(batch)-batchFailed, batchFailed)
	span.SetAttributes(attribute.Int("failed", batchFailed))

	if err := p.jobs.Update(ctx, params.BatchActionID, st.counts()); err != nil {
		return fmt.Errorf("failed to persist batch action progress: %w", err)
	}
	return nil
}

// runBatch fans the batch out under the concurrency limit and waits for
// every record. The group never cancels siblings, so one failure cannot
// abort the rest of the batch.
func (p *Processor) runBatch(ctx context.Context, params ProcessParams, batch []any) []error {
	errs := make([]error, len(batch))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, raw := range batch {
		g.Go(func() error {
			errs[i] = p.processRecord(ctx, params, raw)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (p *Processor) processRecord(ctx context.Context, params ProcessParams, raw any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while scheduling record: %v", r)
		}
	}()

	obs, err := params.Normalizer.Normalize(raw, params.ProjectID)
	if err != nil {
		return err
	}
	return p.scheduler.Schedule(ctx, ScheduleRequest{
		Observation:           obs,
		Configs:               params.Evaluators,
		IgnoreConfigTargeting: true,
	})
}

func (p *Processor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}

// failureSummary renders the terminal log of a run with failures.
func failureSummary(failed int, cfg RunEvaluationConfig, lines []string) string {
	return fmt.Sprintf("%d observations failed while scheduling %d evaluator(s): %s.\n%s",
		failed, len(cfg.Evaluators), strings.Join(cfg.Names(), ", "), strings.Join(lines, "\n"))
}
