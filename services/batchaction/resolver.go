package batchaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DhavalThkkar/langfuse/pkg/metrics"
)

// FetchOptions narrows the read-mode config lookup.
type FetchOptions struct {
	// RequireTimeScopeNew keeps only configs that run on new data.
	RequireTimeScopeNew bool
}

// Resolver turns requested evaluator ids into validated, live configs.
type Resolver struct {
	configs ConfigStore
	cache   NegativeConfigCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResolver creates a resolver. A nil cache disables negative caching.
func NewResolver(configs ConfigStore, cache NegativeConfigCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		configs: configs,
		cache:   cache,
		logger:  logger.With("component", "resolver"),
	}
}

// WithMetrics records negative-cache lookups on m.
func (r *Resolver) WithMetrics(m *metrics.Metrics) *Resolver {
	r.metrics = m
	return r
}

// ResolveForBatch returns the active, event-scoped configs for ids in the
// order of ids. It fails with a *ConfigValidationError naming every id that
// is missing, inactive or not event-scoped. Workers call it again right
// before execution because configs can change after the job was accepted.
func (r *Resolver) ResolveForBatch(ctx context.Context, projectID string, ids []string) ([]*EvaluatorConfig, error) {
	return r.resolve(ctx, projectID, ids, true)
}

// ResolveForRequest is ResolveForBatch with the request-time error wording.
func (r *Resolver) ResolveForRequest(ctx context.Context, projectID string, ids []string) ([]*EvaluatorConfig, error) {
	return r.resolve(ctx, projectID, ids, false)
}

func (r *Resolver) resolve(ctx context.Context, projectID string, ids []string, historical bool) ([]*EvaluatorConfig, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []*EvaluatorConfig{}, nil
	}

	found, err := r.configs.FindEligible(ctx, EligibilityQuery{
		ProjectID:     projectID,
		IDs:           ids,
		TargetObjects: []TargetObject{TargetEvent},
		Status:        ConfigActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluator configs: %w", err)
	}

	byID := make(map[string]*EvaluatorConfig, len(found))
	for _, cfg := range found {
		byID[cfg.ID] = cfg
	}

	var missing []string
	ordered := make([]*EvaluatorConfig, 0, len(ids))
	for _, id := range ids {
		cfg, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		ordered = append(ordered, cfg)
	}
	if len(missing) > 0 {
		return nil, &ConfigValidationError{MissingIDs: missing, Historical: historical}
	}

	return ordered, nil
}

// FetchObservationEvalConfigs returns the active event or experiment configs
// of a project. A negative-cache hit skips the store entirely, and an empty
// result writes the marker.
func (r *Resolver) FetchObservationEvalConfigs(ctx context.Context, projectID string, opts FetchOptions) ([]*EvaluatorConfig, error) {
	if r.cache != nil {
		hit, err := r.cache.Has(ctx, projectID, ModeEventBased)
		if err != nil {
			r.logger.WarnContext(ctx, "negative config cache read failed", "project_id", projectID, "error", err)
		}
		r.metrics.ObserveCacheLookup(hit)
		if hit {
			r.logger.DebugContext(ctx, "skipping config lookup, project has no eval configs", "project_id", projectID)
			return []*EvaluatorConfig{}, nil
		}
	}

	q := EligibilityQuery{
		ProjectID:     projectID,
		TargetObjects: []TargetObject{TargetEvent, TargetExperiment},
		Status:        ConfigActive,
	}
	if opts.RequireTimeScopeNew {
		q.TimeScope = TimeScopeNew
	}

	configs, err := r.configs.FindEligible(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluator configs: %w", err)
	}

	if len(configs) == 0 {
		if r.cache != nil {
			if err := r.cache.Set(ctx, projectID, ModeEventBased); err != nil {
				r.logger.WarnContext(ctx, "negative config cache write failed", "project_id", projectID, "error", err)
			}
		}
		return []*EvaluatorConfig{}, nil
	}

	return configs, nil
}

// dedupe removes repeated ids, keeping first occurrences in order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
