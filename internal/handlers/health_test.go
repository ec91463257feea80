package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/threadline/orders-api/internal/domain"
)

type stubHealthRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	if s.err != nil {
		return domain.SystemHealthReport{}, s.err
	}
	return s.report, nil
}

func decodeHealthResponse(t *testing.T, rec *httptest.ResponseRecorder) healthResponse {
	t.Helper()
	var payload healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return payload
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)

	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "production",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeHealthResponse(t, rec)
	if payload.Status != domain.HealthStatusOK {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Version != "1.4.0" || payload.CommitSHA != "abc1234" {
		t.Fatalf("unexpected build info %+v", payload)
	}
	if payload.Uptime != "1h30m0s" {
		t.Fatalf("unexpected uptime %q", payload.Uptime)
	}
}

func TestReadyzWithoutProbesIsOK(t *testing.T) {
	h := NewHealthHandlers()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload := decodeHealthResponse(t, rec); payload.Status != domain.HealthStatusOK {
		t.Fatalf("unexpected status %q", payload.Status)
	}
}

func TestReadyzHealthyDependencies(t *testing.T) {
	repo := &stubHealthRepo{
		report: domain.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				"pubsub":    {Status: domain.HealthStatusOK, Latency: 4 * time.Millisecond},
			},
			Version: "1.4.0",
			Uptime:  time.Hour,
		},
	}
	h := NewHealthHandlers(WithHealthProbes(repo))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeHealthResponse(t, rec)
	if len(payload.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(payload.Checks))
	}
	if payload.Checks["firestore"].LatencyMS != 12 {
		t.Fatalf("unexpected firestore latency %d", payload.Checks["firestore"].LatencyMS)
	}
	if len(payload.Details) != 0 {
		t.Fatalf("expected no details, got %v", payload.Details)
	}
}

func TestReadyzDegradedDependencyReturns503(t *testing.T) {
	repo := &stubHealthRepo{
		report: domain.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"pubsub":    {Status: domain.HealthStatusError, Error: "topic lookup timed out"},
			},
		},
	}
	h := NewHealthHandlers(WithHealthProbes(repo))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	payload := decodeHealthResponse(t, rec)
	if payload.Status != domain.HealthStatusDegraded {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if len(payload.Details) != 1 || payload.Details[0] != "pubsub: topic lookup timed out" {
		t.Fatalf("unexpected details %v", payload.Details)
	}
}

func TestReadyzCollectFailureReturns503(t *testing.T) {
	h := NewHealthHandlers(WithHealthProbes(&stubHealthRepo{err: errors.New("probe runner crashed")}))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	payload := decodeHealthResponse(t, rec)
	if payload.Status != domain.HealthStatusError {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if len(payload.Details) != 1 || payload.Details[0] != "probe runner crashed" {
		t.Fatalf("unexpected details %v", payload.Details)
	}
}
