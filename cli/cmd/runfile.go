package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	pkgconfig "github.com/DhavalThkkar/langfuse/pkg/config"
	"github.com/DhavalThkkar/langfuse/pkg/queue"
	"github.com/DhavalThkkar/langfuse/pkg/telemetry"
	"github.com/DhavalThkkar/langfuse/services/batchaction"
)

const localProject = "local"

var batchRunFileCmd = &cobra.Command{
	Use:   "run-file <events.jsonl>",
	Short: "Evaluate an observation export locally",
	Long: `Run a batch evaluation in-process over a JSON-lines observation export.

Evaluator configs are read from a JSON array. Every config in the file is
run unless --evaluator narrows the selection. Scheduled evaluation tasks can
be written to a JSON-lines file with --tasks-out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evaluatorsFile, _ := cmd.Flags().GetString("evaluators")
		queryFile, _ := cmd.Flags().GetString("query-file")
		tasksOut, _ := cmd.Flags().GetString("tasks-out")
		only, _ := cmd.Flags().GetStringArray("evaluator")

		configs, err := loadEvaluatorConfigs(evaluatorsFile)
		if err != nil {
			return err
		}
		query, err := loadQuery(queryFile)
		if err != nil {
			return err
		}
		refs, err := selectEvaluators(configs, only)
		if err != nil {
			return err
		}

		level := slog.LevelWarn
		if cfg.Verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		base, err := pkgconfig.Load("batchaction")
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		run := localRun{
			eventsFile: args[0],
			configs:    configs,
			batch:      base.Batch,
			logger:     logger,
		}
		job, tasks, err := run.execute(cmd.Context(), batchaction.CreateRunEvaluationInput{
			ProjectID: localProject,
			UserID:    "cli",
			Query:     query,
			Config:    batchaction.RunEvaluationConfig{Evaluators: refs},
		})
		if err != nil {
			return err
		}

		if tasksOut != "" {
			if err := writeTasks(tasksOut, tasks); err != nil {
				return err
			}
			writer(cmd).Info("Wrote %d evaluation tasks to %s", len(tasks), tasksOut)
		}
		return writer(cmd).Print(jobView{job})
	},
}

func init() {
	batchRunFileCmd.Flags().String("evaluators", "", "JSON file with an array of evaluator configs")
	batchRunFileCmd.Flags().StringArrayP("evaluator", "e", nil, "Only run this config id (repeatable)")
	batchRunFileCmd.Flags().String("query-file", "", "JSON file with the observation query")
	batchRunFileCmd.Flags().String("tasks-out", "", "Write scheduled evaluation tasks to this JSON-lines file")
	batchRunFileCmd.MarkFlagRequired("evaluators")
}

// localRun wires the batch pipeline on in-memory stores and queues.
type localRun struct {
	eventsFile string
	configs    []*batchaction.EvaluatorConfig
	batch      pkgconfig.Batch
	logger     *slog.Logger
}

func (r localRun) execute(ctx context.Context, in batchaction.CreateRunEvaluationInput) (*batchaction.BatchAction, []batchaction.EvalTask, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	store := batchaction.NewMemoryConfigStore()
	for _, c := range r.configs {
		store.Put(c)
	}
	jobs := batchaction.NewMemoryJobStore()
	actions := queue.NewMemoryQueue()
	defer actions.Close()
	evals := queue.NewMemoryQueue()
	defer evals.Close()

	targeting, err := batchaction.NewTargeting()
	if err != nil {
		return nil, nil, err
	}
	rows := batchaction.NewJSONLinesFile(r.eventsFile)
	resolver := batchaction.NewResolver(store, batchaction.NewMemoryNegativeCache(r.batch.NoConfigCacheTTL), r.logger)
	processor := batchaction.NewProcessor(jobs,
		batchaction.NewQueueScheduler(evals, targeting, r.logger),
		telemetry.NewSpanExceptionTracker(r.logger), r.logger,
		batchaction.ProcessorConfigFrom(r.batch))
	worker := batchaction.NewWorker(actions, jobs, resolver, rows, processor, r.batch.PollTimeout, r.logger).
		WithNormalizer(batchaction.ExportRowNormalizer{})

	svc := batchaction.NewService(jobs, store, resolver, rows, actions,
		batchaction.ServiceConfig{EventsTable: true, MaxHistoricEvals: r.batch.MaxHistoricEvals}, r.logger)

	job, err := svc.CreateRunEvaluationAction(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	msg, err := actions.Pop(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	if msg == nil {
		return nil, nil, errors.New("batch action was not queued")
	}
	if err := worker.Handle(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("batch action %s failed: %w", job.ID, err)
	}

	tasks, err := drainTasks(ctx, evals)
	if err != nil {
		return nil, nil, err
	}
	job, err = jobs.Get(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	return job, tasks, nil
}

func drainTasks(ctx context.Context, q *queue.MemoryQueue) ([]batchaction.EvalTask, error) {
	var tasks []batchaction.EvalTask
	for {
		msg, err := q.Pop(ctx, 0)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return tasks, nil
		}
		var task batchaction.EvalTask
		if err := msg.Decode(&task); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
}

// loadEvaluatorConfigs reads configs for the local project. Missing status,
// target and time scope default to an active historical event evaluator.
func loadEvaluatorConfigs(path string) ([]*batchaction.EvaluatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read evaluators file: %w", err)
	}
	var configs []*batchaction.EvaluatorConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse evaluators file %s: %w", path, err)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no evaluator configs in %s", path)
	}

	for i, c := range configs {
		if c == nil || c.ID == "" {
			return nil, fmt.Errorf("evaluator config %d has no id", i)
		}
		c.ProjectID = localProject
		if c.Status == "" {
			c.Status = batchaction.ConfigActive
		}
		if c.TargetObject == "" {
			c.TargetObject = batchaction.TargetEvent
		}
		if len(c.TimeScope) == 0 {
			c.TimeScope = []string{batchaction.TimeScopeExisting}
		}
		if c.ScoreName == "" {
			c.ScoreName = c.ID
		}
	}
	return configs, nil
}

// selectEvaluators names every config after its score, optionally narrowed
// to the given ids.
func selectEvaluators(configs []*batchaction.EvaluatorConfig, only []string) ([]batchaction.EvaluatorRef, error) {
	byID := make(map[string]*batchaction.EvaluatorConfig, len(configs))
	for _, c := range configs {
		byID[c.ID] = c
	}

	var refs []batchaction.EvaluatorRef
	if len(only) == 0 {
		for _, c := range configs {
			refs = append(refs, batchaction.EvaluatorRef{EvaluatorConfigID: c.ID, EvaluatorName: c.ScoreName})
		}
		return refs, nil
	}
	for _, id := range only {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("evaluator %q is not in the evaluators file", id)
		}
		refs = append(refs, batchaction.EvaluatorRef{EvaluatorConfigID: c.ID, EvaluatorName: c.ScoreName})
	}
	return refs, nil
}

func writeTasks(path string, tasks []batchaction.EvalTask) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tasks file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, task := range tasks {
		if err := enc.Encode(task); err != nil {
			f.Close()
			return fmt.Errorf("failed to write task %s: %w", task.ID, err)
		}
	}
	return f.Close()
}
