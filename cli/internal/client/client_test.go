package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DhavalThkkar/langfuse/services/batchaction"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 5*time.Second)
}

func TestClient_CreateRunEvaluation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/projects/proj-1/batch-actions/run-evaluation" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Config.Evaluators) != 1 || body.Config.Evaluators[0].EvaluatorConfigID != "eval-1" {
			t.Errorf("body = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "ba-1", "status": "QUEUED"})
	})

	resp, err := c.CreateRunEvaluation(context.Background(), "proj-1", CreateRequest{
		Config: batchaction.RunEvaluationConfig{Evaluators: []batchaction.EvaluatorRef{
			{EvaluatorConfigID: "eval-1", EvaluatorName: "quality"},
		}},
	})
	if err != nil {
		t.Fatalf("CreateRunEvaluation() error = %v", err)
	}
	if resp.ID != "ba-1" || resp.Status != batchaction.StatusQueued {
		t.Errorf("response = %+v", resp)
	}
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "failed to get batch action", "details": "batch action not found"})
	})

	_, err := c.GetBatchAction(context.Background(), "proj-1", "missing")
	if !IsNotFound(err) {
		t.Fatalf("GetBatchAction() error = %v, want not found", err)
	}
	if want := "failed to get batch action (HTTP 404): batch action not found"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestClient_APIErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ListEvaluators(context.Background(), "proj-1")
	if err == nil || err.Error() != "Bad Gateway (HTTP 502)" {
		t.Errorf("ListEvaluators() error = %v", err)
	}
}

func TestClient_ListBatchActions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"batchActions": []map[string]any{{"id": "ba-1", "status": "COMPLETED"}},
			"totalCount":   21,
		})
	})

	resp, err := c.ListBatchActions(context.Background(), "proj-1", 2, 10)
	if err != nil {
		t.Fatalf("ListBatchActions() error = %v", err)
	}
	if resp.TotalCount != 21 || len(resp.BatchActions) != 1 || resp.BatchActions[0].Status != batchaction.StatusCompleted {
		t.Errorf("response = %+v", resp)
	}
}

func TestProjectPath_Escapes(t *testing.T) {
	if got, want := projectPath("a/b", "batch-actions", "x y"), "/api/v1/projects/a%2Fb/batch-actions/x%20y"; got != want {
		t.Errorf("projectPath() = %q, want %q", got, want)
	}
}
