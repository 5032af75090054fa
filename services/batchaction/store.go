package batchaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DhavalThkkar/langfuse/pkg/config"
	"github.com/DhavalThkkar/langfuse/pkg/database"
)

// StoreOptions configures store creation.
type StoreOptions struct {
	Backend config.StorageBackend
	DB      *database.DB
}

// JobUpdate is a partial update of a batch action. Nil fields are left as is.
type JobUpdate struct {
	Status         *Status
	TotalCount     *int
	ProcessedCount *int
	FailedCount    *int
	Log            *string
	// ClearLog sets the log to null. It wins over Log.
	ClearLog   bool
	FinishedAt *time.Time
}

// apply writes u onto b, enforcing the status state machine.
func (u JobUpdate) apply(b *BatchAction, now time.Time) error {
	if u.Status != nil {
		if !b.Status.CanTransitionTo(*u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, *u.Status)
		}
		b.Status = *u.Status
	}
	if u.TotalCount != nil {
		b.TotalCount = *u.TotalCount
	}
	if u.ProcessedCount != nil {
		b.ProcessedCount = *u.ProcessedCount
	}
	if u.FailedCount != nil {
		b.FailedCount = *u.FailedCount
	}
	switch {
	case u.ClearLog:
		b.Log = nil
	case u.Log != nil:
		l := *u.Log
		b.Log = &l
	}
	if u.FinishedAt != nil {
		f := *u.FinishedAt
		b.FinishedAt = &f
	}
	b.UpdatedAt = now
	return nil
}

// ListQuery pages through a project's batch actions, newest first.
type ListQuery struct {
	ProjectID string
	Limit     int
	Offset    int
}

// JobStore persists batch actions.
type JobStore interface {
	Create(ctx context.Context, job *BatchAction) error
	// Get returns (nil, nil) when the batch action does not exist.
	Get(ctx context.Context, id string) (*BatchAction, error)
	List(ctx context.Context, q ListQuery) ([]*BatchAction, int, error)
	Update(ctx context.Context, id string, u JobUpdate) error
}

// NewJobStore creates a JobStore for the configured backend.
func NewJobStore(opts StoreOptions) (JobStore, error) {
	switch opts.Backend {
	case config.StoragePostgres:
		if opts.DB == nil {
			return nil, fmt.Errorf("database connection required for postgres backend")
		}
		return NewPostgresJobStore(opts.DB), nil
	default:
		return NewMemoryJobStore(), nil
	}
}

// MemoryJobStore is an in-memory JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*BatchAction
	now  func() time.Time
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*BatchAction),
		now:  time.Now,
	}
}

// Create implements JobStore.
func (s *MemoryJobStore) Create(_ context.Context, job *BatchAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("batch action already exists: %s", job.ID)
	}
	s.jobs[job.ID] = job.Copy()
	return nil
}

// Get implements JobStore.
func (s *MemoryJobStore) Get(_ context.Context, id string) (*BatchAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Copy(), nil
}

// List implements JobStore.
func (s *MemoryJobStore) List(_ context.Context, q ListQuery) ([]*BatchAction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*BatchAction
	for _, job := range s.jobs {
		if job.ProjectID == q.ProjectID {
			results = append(results, job.Copy())
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			results = nil
		} else {
			results = results[q.Offset:]
		}
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	return results, total, nil
}

// Update implements JobStore.
func (s *MemoryJobStore) Update(_ context.Context, id string, u JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	next := job.Copy()
	if err := u.apply(next, s.now()); err != nil {
		return err
	}
	s.jobs[id] = next
	return nil
}

// PostgresJobStore implements JobStore on the batch_actions table.
type PostgresJobStore struct {
	db *database.DB
}

// NewPostgresJobStore creates a PostgreSQL-backed job store.
func NewPostgresJobStore(db *database.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

const jobColumns = `id, project_id, user_id, action_type, table_name, query, config, status,
	total_count, processed_count, failed_count, log, created_at, updated_at, finished_at`

// Create implements JobStore.
func (s *PostgresJobStore) Create(ctx context.Context, job *BatchAction) error {
	query, err := json.Marshal(job.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_actions (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, job.ID, job.ProjectID, job.UserID, string(job.ActionType), job.TableName, query, cfg,
		string(job.Status), job.TotalCount, job.ProcessedCount, job.FailedCount,
		job.Log, job.CreatedAt, job.UpdatedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch action: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*BatchAction, error) {
	var (
		job        BatchAction
		actionType string
		status     string
		query, cfg []byte
		log        sql.NullString
		finishedAt sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.ProjectID, &job.UserID, &actionType, &job.TableName,
		&query, &cfg, &status, &job.TotalCount, &job.ProcessedCount, &job.FailedCount,
		&log, &job.CreatedAt, &job.UpdatedAt, &finishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(query, &job.Query); err != nil {
		return nil, fmt.Errorf("failed to decode query of %s: %w", job.ID, err)
	}
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of %s: %w", job.ID, err)
	}
	job.ActionType = ActionType(actionType)
	job.Status = Status(status)
	if log.Valid {
		job.Log = &log.String
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}

// Get implements JobStore.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*BatchAction, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM batch_actions WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch action: %w", err)
	}
	return job, nil
}

// List implements JobStore.
func (s *PostgresJobStore) List(ctx context.Context, q ListQuery) ([]*BatchAction, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM batch_actions WHERE project_id = $1", q.ProjectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batch actions: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+
		" FROM batch_actions WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		q.ProjectID, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batch actions: %w", err)
	}
	defer rows.Close()

	var jobs []*BatchAction
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan batch action: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// Update implements JobStore. The row is locked while the transition is checked.
func (s *PostgresJobStore) Update(ctx context.Context, id string, u JobUpdate) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM batch_actions WHERE id = $1 FOR UPDATE", id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to load batch action: %w", err)
		}

		if err := u.apply(job, time.Now()); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE batch_actions SET status = $2, total_count = $3, processed_count = $4,
				failed_count = $5, log = $6, updated_at = $7, finished_at = $8
			WHERE id = $1
		`, id, string(job.Status), job.TotalCount, job.ProcessedCount, job.FailedCount,
			job.Log, job.UpdatedAt, job.FinishedAt)
		if err != nil {
			return fmt.Errorf("failed to update batch action: %w", err)
		}
		return nil
	})
}
