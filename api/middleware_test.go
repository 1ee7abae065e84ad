package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"mediamirror/config"
)

func newAuthedManager(t *testing.T, apiKey string) *config.Manager {
	t.Helper()
	m := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	s, err := m.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	s.Server.APIKey = apiKey
	if err := m.Save(s); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return m
}

func authProbe(m *config.Manager, mutate func(*http.Request)) int {
	handler := APIKeyMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAPIKeyMiddleware(t *testing.T) {
	m := newAuthedManager(t, "secret")

	if code := authProbe(m, nil); code != http.StatusUnauthorized {
		t.Errorf("no credentials: status %d, want 401", code)
	}
	if code := authProbe(m, func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong")
	}); code != http.StatusUnauthorized {
		t.Errorf("wrong key: status %d, want 401", code)
	}
	if code := authProbe(m, func(r *http.Request) {
		r.Header.Set("X-API-Key", "secret")
	}); code != http.StatusNoContent {
		t.Errorf("header key: status %d, want 204", code)
	}
	if code := authProbe(m, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret")
	}); code != http.StatusNoContent {
		t.Errorf("bearer token: status %d, want 204", code)
	}
}

func TestAPIKeyMiddlewareNoKeyConfigured(t *testing.T) {
	m := newAuthedManager(t, "")
	if code := authProbe(m, nil); code != http.StatusNoContent {
		t.Errorf("keyless install: status %d, want pass-through 204", code)
	}
}
