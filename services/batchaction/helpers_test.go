package batchaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// recordingScheduler captures Schedule calls and fails configured spans.
type recordingScheduler struct {
	mu       sync.Mutex
	requests []ScheduleRequest
	failFor  map[string]error
	panicFor map[string]bool
}

func (s *recordingScheduler) Schedule(_ context.Context, req ScheduleRequest) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.panicFor[req.Observation.SpanID] {
		panic("scheduler exploded")
	}
	if err, ok := s.failFor[req.Observation.SpanID]; ok {
		return err
	}
	return nil
}

func (s *recordingScheduler) calls() []ScheduleRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScheduleRequest(nil), s.requests...)
}

// recordingJobStore wraps MemoryJobStore and keeps every update.
type recordingJobStore struct {
	*MemoryJobStore
	mu        sync.Mutex
	updates   []JobUpdate
	failAfter int
}

func newRecordingJobStore() *recordingJobStore {
	return &recordingJobStore{MemoryJobStore: NewMemoryJobStore(), failAfter: -1}
}

func (s *recordingJobStore) Update(ctx context.Context, id string, u JobUpdate) error {
	s.mu.Lock()
	if s.failAfter >= 0 && len(s.updates) >= s.failAfter {
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	return s.MemoryJobStore.Update(ctx, id, u)
}

func (s *recordingJobStore) recorded() []JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]JobUpdate(nil), s.updates...)
}

// recordingTracker counts reported exceptions.
type recordingTracker struct {
	mu   sync.Mutex
	errs []error
}

func (t *recordingTracker) TraceException(_ context.Context, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, err)
}

func (t *recordingTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.errs)
}

// failingConfigStore fails every query.
type failingConfigStore struct{}

func (failingConfigStore) FindEligible(context.Context, EligibilityQuery) ([]*EvaluatorConfig, error) {
	return nil, errors.New("database is down")
}

func (failingConfigStore) List(context.Context, string) ([]*EvaluatorConfig, error) {
	return nil, errors.New("database is down")
}

func eventConfig(id, project string) *EvaluatorConfig {
	return &EvaluatorConfig{
		ID:             id,
		ProjectID:      project,
		Sampling:       1,
		EvalTemplateID: "tmpl-" + id,
		ScoreName:      "score-" + id,
		TargetObject:   TargetEvent,
		Status:         ConfigActive,
		TimeScope:      []string{TimeScopeExisting},
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func eventRow(i int) map[string]any {
	return map[string]any{
		"id":       fmt.Sprintf("obs-%d", i),
		"trace_id": fmt.Sprintf("trace-%d", i),
		"name":     "generation",
	}
}

func eventRows(n int) []any {
	rows := make([]any, n)
	for i := range rows {
		rows[i] = eventRow(i)
	}
	return rows
}

func queuedJob(id, project string, cfg RunEvaluationConfig) *BatchAction {
	now := time.Now().UTC()
	return &BatchAction{
		ID:         id,
		ProjectID:  project,
		ActionType: ActionObservationRunEvaluation,
		TableName:  TableObservations,
		Config:     cfg,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
