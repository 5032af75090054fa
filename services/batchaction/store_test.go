package batchaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DhavalThkkar/langfuse/pkg/config"
)

func TestMemoryJobStore_CreateAndGet(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := queuedJob("ba-1", "proj-1", qualityConfig)
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, job); err == nil {
		t.Error("expected error for duplicate batch action")
	}

	got, err := store.Get(ctx, "ba-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Status != StatusQueued {
		t.Fatalf("Get() = %v, want QUEUED job", got)
	}

	// returned jobs are copies
	got.Config.Evaluators[0].EvaluatorName = "changed"
	again, _ := store.Get(ctx, "ba-1")
	if again.Config.Evaluators[0].EvaluatorName != "quality" {
		t.Error("store returned a shared reference")
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Get(nope) = %v, %v, want nil, nil", missing, err)
	}
}

func TestMemoryJobStore_Update(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	if err := store.Create(ctx, queuedJob("ba-1", "proj-1", qualityConfig)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	processing := StatusProcessing
	total := 5
	if err := store.Update(ctx, "ba-1", JobUpdate{Status: &processing, TotalCount: &total}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	msg := "boom"
	completed := StatusCompleted
	finished := time.Now().UTC()
	if err := store.Update(ctx, "ba-1", JobUpdate{Status: &completed, Log: &msg, FinishedAt: &finished}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := store.Get(ctx, "ba-1")
	if got.Status != StatusCompleted || got.TotalCount != 5 {
		t.Errorf("job = %v/%d, want COMPLETED/5", got.Status, got.TotalCount)
	}
	if got.Log == nil || *got.Log != "boom" {
		t.Errorf("Log = %v, want boom", got.Log)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}

	err := store.Update(ctx, "ba-1", JobUpdate{Status: &processing})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Update() from terminal error = %v, want ErrInvalidTransition", err)
	}

	err = store.Update(ctx, "nope", JobUpdate{})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Update(nope) error = %v, want ErrJobNotFound", err)
	}
}

func TestJobUpdate_ClearLogWins(t *testing.T) {
	msg := "old"
	b := &BatchAction{Status: StatusProcessing, Log: &msg}
	next := "new"
	if err := (JobUpdate{Log: &next, ClearLog: true}).apply(b, time.Now()); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if b.Log != nil {
		t.Errorf("Log = %q, want nil", *b.Log)
	}
}

func TestJobUpdate_RejectedLeavesJob(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	if err := store.Create(ctx, queuedJob("ba-1", "proj-1", qualityConfig)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	partial := StatusPartial
	total := 9
	if err := store.Update(ctx, "ba-1", JobUpdate{Status: &partial, TotalCount: &total}); err == nil {
		t.Fatal("QUEUED -> PARTIAL should be rejected")
	}
	got, _ := store.Get(ctx, "ba-1")
	if got.Status != StatusQueued || got.TotalCount != 0 {
		t.Errorf("job = %v/%d, want untouched", got.Status, got.TotalCount)
	}
}

func TestMemoryJobStore_List(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		job := queuedJob(id, "proj-1", qualityConfig)
		job.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := store.Create(ctx, queuedJob("other", "proj-2", qualityConfig)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	page, total, err := store.List(ctx, ListQuery{ProjectID: "proj-1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if len(page) != 2 || page[0].ID != "c" || page[1].ID != "b" {
		t.Errorf("page = %v, want [c b]", jobIDs(page))
	}

	empty, _, _ := store.List(ctx, ListQuery{ProjectID: "proj-1", Offset: 10})
	if len(empty) != 0 {
		t.Errorf("List past the end = %v, want empty", jobIDs(empty))
	}
}

func jobIDs(jobs []*BatchAction) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestNewJobStore_Backends(t *testing.T) {
	store, err := NewJobStore(StoreOptions{Backend: config.StorageMemory})
	if err != nil {
		t.Fatalf("NewJobStore(memory) error = %v", err)
	}
	if _, ok := store.(*MemoryJobStore); !ok {
		t.Errorf("NewJobStore(memory) = %T, want *MemoryJobStore", store)
	}

	if _, err := NewJobStore(StoreOptions{Backend: config.StoragePostgres}); err == nil {
		t.Error("NewJobStore(postgres) without DB should fail")
	}
	if _, err := NewConfigStore(StoreOptions{Backend: config.StoragePostgres}); err == nil {
		t.Error("NewConfigStore(postgres) without DB should fail")
	}
}

func TestRunEvaluationConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RunEvaluationConfig
		wantErr bool
	}{
		{"valid", qualityConfig, false},
		{"empty", RunEvaluationConfig{}, true},
		{"missing name", RunEvaluationConfig{Evaluators: []EvaluatorRef{{EvaluatorConfigID: "a"}}}, true},
		{"missing id", RunEvaluationConfig{Evaluators: []EvaluatorRef{{EvaluatorName: "x"}}}, true},
		{"duplicate id", RunEvaluationConfig{Evaluators: []EvaluatorRef{
			{EvaluatorConfigID: "a", EvaluatorName: "x"},
			{EvaluatorConfigID: "a", EvaluatorName: "y"},
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
