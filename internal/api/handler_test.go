//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "bad input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "bad input" {
		t.Errorf("Expected error=bad input, got %v", got["error"])
	}
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) (string, map[string]string) {
	t.Helper()
	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	return got.Status, got.Checks
}

func TestHealthHealthy(t *testing.T) {
	h := NewHealthHandler(&fakePinger{}, ComponentCheck{
		Name:  "corpus",
		Check: func(context.Context) (string, bool) { return "loaded", true },
	})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	status, checks := decodeHealth(t, w)
	if status != "healthy" {
		t.Errorf("Expected healthy, got %q", status)
	}
	if checks["database"] != "ok" || checks["corpus"] != "loaded" {
		t.Errorf("Unexpected checks: %v", checks)
	}
}

func TestHealthDegradedDatabase(t *testing.T) {
	h := NewHealthHandler(&fakePinger{err: errors.New("no such host")})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	status, checks := decodeHealth(t, w)
	if status != "degraded" || checks["database"] != "unreachable" {
		t.Errorf("status=%q checks=%v", status, checks)
	}
}

func TestHealthDegradedComponent(t *testing.T) {
	h := NewHealthHandler(&fakePinger{}, ComponentCheck{
		Name:  "synthesizer",
		Check: func(context.Context) (string, bool) { return "unreachable", false },
	})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	status, checks := decodeHealth(t, w)
	if status != "degraded" || checks["synthesizer"] != "unreachable" {
		t.Errorf("status=%q checks=%v", status, checks)
	}
}
