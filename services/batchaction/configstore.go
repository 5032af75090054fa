package batchaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/DhavalThkkar/langfuse/pkg/config"
)

// EligibilityQuery selects evaluator configs. Empty IDs means any id and an
// empty TimeScope means any time scope.
type EligibilityQuery struct {
	ProjectID     string
	IDs           []string
	TargetObjects []TargetObject
	Status        ConfigStatus
	TimeScope     string
}

// matches reports whether cfg satisfies the query.
func (q EligibilityQuery) matches(cfg *EvaluatorConfig) bool {
	if cfg.ProjectID != q.ProjectID {
		return false
	}
	if q.Status != "" && cfg.Status != q.Status {
		return false
	}
	if len(q.TargetObjects) > 0 && !slices.Contains(q.TargetObjects, cfg.TargetObject) {
		return false
	}
	if len(q.IDs) > 0 && !slices.Contains(q.IDs, cfg.ID) {
		return false
	}
	if q.TimeScope != "" && !cfg.HasTimeScope(q.TimeScope) {
		return false
	}
	return true
}

// ConfigStore reads evaluator configs.
type ConfigStore interface {
	// FindEligible returns the configs matching q in no particular order.
	FindEligible(ctx context.Context, q EligibilityQuery) ([]*EvaluatorConfig, error)
	// List returns all configs of a project ordered by creation time.
	List(ctx context.Context, projectID string) ([]*EvaluatorConfig, error)
}

// NewConfigStore creates a ConfigStore for the configured backend.
func NewConfigStore(opts StoreOptions) (ConfigStore, error) {
	switch opts.Backend {
	case config.StoragePostgres:
		if opts.DB == nil {
			return nil, fmt.Errorf("database connection required for postgres backend")
		}
		return NewPostgresConfigStore(opts.DB.DB), nil
	default:
		return NewMemoryConfigStore(), nil
	}
}

// MemoryConfigStore is an in-memory ConfigStore.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*EvaluatorConfig

	// queries counts FindEligible calls.
	queries int
}

// NewMemoryConfigStore creates an empty in-memory config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]*EvaluatorConfig)}
}

// Put inserts or replaces a config.
func (s *MemoryConfigStore) Put(cfg *EvaluatorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = copyConfig(cfg)
}

// FindEligible implements ConfigStore.
func (s *MemoryConfigStore) FindEligible(_ context.Context, q EligibilityQuery) ([]*EvaluatorConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++

	var out []*EvaluatorConfig
	for _, cfg := range s.configs {
		if q.matches(cfg) {
			out = append(out, copyConfig(cfg))
		}
	}
	return out, nil
}

// Queries returns how many times FindEligible ran.
func (s *MemoryConfigStore) Queries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

// List implements ConfigStore.
func (s *MemoryConfigStore) List(_ context.Context, projectID string) ([]*EvaluatorConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EvaluatorConfig
	for _, cfg := range s.configs {
		if cfg.ProjectID == projectID {
			out = append(out, copyConfig(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func copyConfig(cfg *EvaluatorConfig) *EvaluatorConfig {
	c := *cfg
	c.Filter = append([]FilterCondition(nil), cfg.Filter...)
	c.VariableMapping = append([]VariableMapping(nil), cfg.VariableMapping...)
	c.TimeScope = append([]string(nil), cfg.TimeScope...)
	return &c
}

// PostgresConfigStore reads evaluator configs from job_configurations.
type PostgresConfigStore struct {
	db *sql.DB
}

// NewPostgresConfigStore creates a PostgreSQL-backed config store.
func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

const configColumns = `id, project_id, filter, sampling, eval_template_id, score_name,
	target_object, variable_mapping, status, time_scope, created_at`

// Create inserts a config.
func (s *PostgresConfigStore) Create(ctx context.Context, cfg *EvaluatorConfig) error {
	filter, err := json.Marshal(nonNil(cfg.Filter))
	if err != nil {
		return fmt.Errorf("failed to marshal filter: %w", err)
	}
	mapping, err := json.Marshal(nonNil(cfg.VariableMapping))
	if err != nil {
		return fmt.Errorf("failed to marshal variable mapping: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_configurations (`+configColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, cfg.ID, cfg.ProjectID, filter, cfg.Sampling, cfg.EvalTemplateID, cfg.ScoreName,
		string(cfg.TargetObject), mapping, string(cfg.Status), pq.Array(cfg.TimeScope), cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert evaluator config: %w", err)
	}
	return nil
}

// FindEligible implements ConfigStore.
func (s *PostgresConfigStore) FindEligible(ctx context.Context, q EligibilityQuery) ([]*EvaluatorConfig, error) {
	where := []string{"project_id = $1"}
	args := []any{q.ProjectID}

	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(q.TargetObjects) > 0 {
		targets := make([]string, len(q.TargetObjects))
		for i, t := range q.TargetObjects {
			targets[i] = string(t)
		}
		args = append(args, pq.Array(targets))
		where = append(where, fmt.Sprintf("target_object = ANY($%d)", len(args)))
	}
	if len(q.IDs) > 0 {
		args = append(args, pq.Array(q.IDs))
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if q.TimeScope != "" {
		args = append(args, q.TimeScope)
		where = append(where, fmt.Sprintf("$%d = ANY(time_scope)", len(args)))
	}

	query := "SELECT " + configColumns + " FROM job_configurations WHERE " + strings.Join(where, " AND ")
	return s.query(ctx, query, args...)
}

// List implements ConfigStore.
func (s *PostgresConfigStore) List(ctx context.Context, projectID string) ([]*EvaluatorConfig, error) {
	return s.query(ctx, "SELECT "+configColumns+
		" FROM job_configurations WHERE project_id = $1 ORDER BY created_at, id", projectID)
}

func (s *PostgresConfigStore) query(ctx context.Context, query string, args ...any) ([]*EvaluatorConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluator configs: %w", err)
	}
	defer rows.Close()

	var out []*EvaluatorConfig
	for rows.Next() {
		var (
			cfg             EvaluatorConfig
			filter, mapping []byte
			target, status  string
			timeScope       pq.StringArray
		)
		if err := rows.Scan(&cfg.ID, &cfg.ProjectID, &filter, &cfg.Sampling, &cfg.EvalTemplateID,
			&cfg.ScoreName, &target, &mapping, &status, &timeScope, &cfg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluator config: %w", err)
		}
		if err := json.Unmarshal(filter, &cfg.Filter); err != nil {
			return nil, fmt.Errorf("failed to decode filter of %s: %w", cfg.ID, err)
		}
		if err := json.Unmarshal(mapping, &cfg.VariableMapping); err != nil {
			return nil, fmt.Errorf("failed to decode variable mapping of %s: %w", cfg.ID, err)
		}
		cfg.TargetObject = TargetObject(target)
		cfg.Status = ConfigStatus(status)
		cfg.TimeScope = timeScope
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

// nonNil keeps nil slices from encoding as JSON null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
