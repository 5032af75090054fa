package batchaction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DhavalThkkar/langfuse/pkg/queue"
)

func newTestScheduler(t *testing.T, q queue.Queue) *QueueScheduler {
	t.Helper()
	targeting, err := NewTargeting()
	if err != nil {
		t.Fatalf("NewTargeting() error = %v", err)
	}
	return NewQueueScheduler(q, targeting, nil)
}

func drain(t *testing.T, q *queue.MemoryQueue) []EvalTask {
	t.Helper()
	var tasks []EvalTask
	for {
		msg, err := q.Pop(context.Background(), time.Millisecond)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if msg == nil {
			return tasks
		}
		if msg.Name != JobEvaluationExecution {
			t.Errorf("message name = %v, want %v", msg.Name, JobEvaluationExecution)
		}
		var task EvalTask
		if err := msg.Decode(&task); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if msg.ID != task.ID {
			t.Errorf("message id = %v, want task id %v", msg.ID, task.ID)
		}
		tasks = append(tasks, task)
	}
}

func TestQueueScheduler_IgnoreTargeting(t *testing.T) {
	q := queue.NewMemoryQueue()
	s := newTestScheduler(t, q)

	strict := eventConfig("a", "proj-1")
	strict.Filter = []FilterCondition{{Column: "environment", Operator: "=", Value: "nowhere"}}
	strict.Sampling = 0.0001
	s.random = func() float64 { return 0.99 }

	obs := targetObservation()
	err := s.Schedule(context.Background(), ScheduleRequest{
		Observation:           obs,
		Configs:               []*EvaluatorConfig{strict, eventConfig("b", "proj-1")},
		IgnoreConfigTargeting: true,
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	tasks := drain(t, q)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[0].EvaluatorConfigID != "a" || tasks[1].EvaluatorConfigID != "b" {
		t.Errorf("tasks = %s, %s, want a, b", tasks[0].EvaluatorConfigID, tasks[1].EvaluatorConfigID)
	}
	if tasks[0].ScoreName != "score-a" || tasks[0].EvalTemplateID != "tmpl-a" {
		t.Errorf("task = %+v", tasks[0])
	}
	if tasks[0].Observation == nil || tasks[0].Observation.SpanID != obs.SpanID {
		t.Errorf("task observation = %+v", tasks[0].Observation)
	}
}

func TestQueueScheduler_AppliesTargeting(t *testing.T) {
	q := queue.NewMemoryQueue()
	s := newTestScheduler(t, q)

	match := eventConfig("match", "proj-1")
	match.Filter = []FilterCondition{{Column: "environment", Operator: "=", Value: "production"}}
	miss := eventConfig("miss", "proj-1")
	miss.Filter = []FilterCondition{{Column: "environment", Operator: "=", Value: "staging"}}
	sampledOut := eventConfig("sampled-out", "proj-1")
	sampledOut.Sampling = 0.5
	s.random = func() float64 { return 0.75 }

	err := s.Schedule(context.Background(), ScheduleRequest{
		Observation: targetObservation(),
		Configs:     []*EvaluatorConfig{match, miss, sampledOut},
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	tasks := drain(t, q)
	if len(tasks) != 1 || tasks[0].EvaluatorConfigID != "match" {
		t.Errorf("tasks = %+v, want only match", tasks)
	}
}

func TestQueueScheduler_StableTaskIDs(t *testing.T) {
	q := queue.NewMemoryQueue()
	s := newTestScheduler(t, q)
	req := ScheduleRequest{
		Observation:           targetObservation(),
		Configs:               []*EvaluatorConfig{eventConfig("a", "proj-1")},
		IgnoreConfigTargeting: true,
	}

	for range 2 {
		if err := s.Schedule(context.Background(), req); err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}
	tasks := drain(t, q)
	if len(tasks) != 2 || tasks[0].ID != tasks[1].ID {
		t.Errorf("task ids = %v, want two equal ids", tasks)
	}

	other := targetObservation()
	other.SpanID = "obs-2"
	if evalTaskID("proj-1", "a", other) == tasks[0].ID {
		t.Error("different observations share a task id")
	}
}

// failingQueue rejects every push.
type failingQueue struct {
	queue.Queue
}

func (failingQueue) Push(context.Context, queue.Message) error {
	return errors.New("queue unavailable")
}

func TestQueueScheduler_PushErrorsJoined(t *testing.T) {
	s := newTestScheduler(t, failingQueue{})

	err := s.Schedule(context.Background(), ScheduleRequest{
		Observation:           targetObservation(),
		Configs:               []*EvaluatorConfig{eventConfig("a", "proj-1"), eventConfig("b", "proj-1")},
		IgnoreConfigTargeting: true,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, id := range []string{"evaluator a", "evaluator b", "queue unavailable"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("error %q does not mention %q", err, id)
		}
	}
}

func TestQueueScheduler_NilObservation(t *testing.T) {
	s := newTestScheduler(t, queue.NewMemoryQueue())
	if err := s.Schedule(context.Background(), ScheduleRequest{}); !errors.Is(err, ErrInvalidRow) {
		t.Errorf("Schedule() error = %v, want ErrInvalidRow", err)
	}
}
