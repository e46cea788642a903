package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetHealthAggregation(t *testing.T) {
	resetForTest()

	RegisterComponent("store", true, "")
	RegisterComponent("scheduler", true, "")

	health := GetHealth()
	if health.Status != "healthy" {
		t.Errorf("GetHealth().Status = %q, want healthy", health.Status)
	}

	UpdateComponent("scheduler", false, "sweep loop stalled")
	health = GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("GetHealth().Status = %q, want unhealthy", health.Status)
	}
	if health.Components["scheduler"] != "unhealthy: sweep loop stalled" {
		t.Errorf("unexpected component detail: %q", health.Components["scheduler"])
	}
}

func TestReadinessRequiresCriticalComponents(t *testing.T) {
	resetForTest()

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("GetReadiness().Status = %q, want not_ready", readiness.Status)
	}

	RegisterComponent("store", true, "")
	RegisterComponent("scheduler", true, "")
	RegisterComponent("ledger", true, "")

	readiness = GetReadiness()
	if readiness.Status != "ready" {
		t.Errorf("GetReadiness().Status = %q, want ready", readiness.Status)
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	resetForTest()
	RegisterComponent("store", true, "")

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy handler returned %d, want %d", rec.Code, http.StatusOK)
	}

	UpdateComponent("store", false, "db closed")
	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy handler returned %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body.Status != "unhealthy" {
		t.Errorf("body status = %q, want unhealthy", body.Status)
	}
}

func TestReadyHandlerNotReady(t *testing.T) {
	resetForTest()

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready handler returned %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness handler returned %d, want %d", rec.Code, http.StatusOK)
	}
}
