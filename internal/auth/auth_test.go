package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuardDisabledAllowsEverything(t *testing.T) {
	guard := NewGuard(Config{Enabled: false})
	if !guard.Allow("") {
		t.Fatal("disabled guard must allow requests without credentials")
	}
}

func TestGuardValidatesBearerToken(t *testing.T) {
	guard := NewGuard(Config{Enabled: true, APIKeys: []string{"secret-1", "secret-2"}})

	if guard.Allow("") {
		t.Fatal("missing header must be rejected")
	}
	if guard.Allow("Bearer wrong") {
		t.Fatal("unknown key must be rejected")
	}
	if guard.Allow("secret-1") {
		t.Fatal("missing Bearer prefix must be rejected")
	}
	if !guard.Allow("Bearer secret-2") {
		t.Fatal("valid key must be accepted")
	}
}

func TestGuardEnabledWithoutKeysRejectsAll(t *testing.T) {
	guard := NewGuard(Config{Enabled: true})
	if guard.Allow("Bearer anything") {
		t.Fatal("guard without keys must reject every request")
	}
}

func TestMiddleware(t *testing.T) {
	guard := NewGuard(Config{Enabled: true, APIKeys: []string{"secret"}})
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
