package klimaflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var submission RunSubmission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if submission.Strategy != "bullish" || submission.Amount != "10" {
			t.Fatalf("unexpected submission: %+v", submission)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Strategy: "bullish", Amount: "10", Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	run, err := client.SubmitRun(context.Background(), RunSubmission{Strategy: "bullish", Amount: "10"})
	if err != nil {
		t.Fatalf("submit run: %v", err)
	}
	if run.ID != "run-1" || run.Status != "pending" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer key, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"balance": "42"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	balance, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != "42" {
		t.Fatalf("unexpected balance: %s", balance)
	}
}

func TestListRunsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("strategy") != "moon" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		if query.Get("status") != "succeeded,cancelled" {
			t.Fatalf("unexpected status filter: %s", query.Get("status"))
		}
		_ = json.NewEncoder(w).Encode(map[string][]Run{"runs": {{ID: "run-9", Status: "succeeded"}}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	runs, err := client.ListRuns(context.Background(), ListRunsQuery{
		Limit:    5,
		Strategy: "moon",
		Statuses: []string{"succeeded", "cancelled"},
	})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-9" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(struct {
			Error APIError `json:"error"`
		}{Error: APIError{Code: "RUN_NOT_FOUND", Message: "运行不存在"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetRun(context.Background(), "run-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "RUN_NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestCancelRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/api/v1/runs/run-1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Status: "cancelled"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	run, err := client.CancelRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	if run.Status != "cancelled" {
		t.Fatalf("unexpected status: %s", run.Status)
	}
}
