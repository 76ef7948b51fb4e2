package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"KlimaFlow-Chain/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateParsesDirective(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": `{"thought":"用户想质押","reply":"好的，开始质押 5 KLIMA","directive":{"action":"stake","amount":"5"}}`,
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{Message: "帮我质押 5 个 KLIMA"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Thought != "用户想质押" {
		t.Fatalf("unexpected thought: %q", resp.Thought)
	}
	if resp.Directive == nil || resp.Directive.Action != "stake" || resp.Directive.Amount != "5" {
		t.Fatalf("unexpected directive: %+v", resp.Directive)
	}
	if captured.Authorization != "Bearer test" {
		t.Fatalf("unexpected authorization header: %q", captured.Authorization)
	}
	if captured.Body["model"] != defaultModelName {
		t.Fatalf("unexpected model: %v", captured.Body["model"])
	}
}

func TestGenerateFallsBackToPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": "KLIMA 是 KlimaDAO 的治理代币。",
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{Message: "什么是 KLIMA?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Directive != nil {
		t.Fatalf("plain reply should not carry a directive: %+v", resp.Directive)
	}
	if !strings.Contains(resp.Reply, "KLIMA") {
		t.Fatalf("unexpected reply: %q", resp.Reply)
	}
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Message: "hi"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
