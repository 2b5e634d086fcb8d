package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BranchIntl/couponqueue/core"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	outcome  core.Outcome
	runErr   error
	progress progress.Progress
	status   core.Status
	result   *item.RunResult
	health   core.HealthStatus
	runs     int
}

func (f *fakeProcessor) Identifier() string { return "wp_1" }

func (f *fakeProcessor) Run(ctx context.Context) (core.Outcome, error) {
	f.runs++
	return f.outcome, f.runErr
}

func (f *fakeProcessor) Progress(ctx context.Context) (progress.Progress, error) {
	return f.progress, nil
}

func (f *fakeProcessor) Status(ctx context.Context) (core.Status, error) {
	return f.status, nil
}

func (f *fakeProcessor) ConsumeResult(ctx context.Context) (*item.RunResult, error) {
	res := f.result
	f.result = nil
	return res, nil
}

func (f *fakeProcessor) Health(ctx context.Context) core.HealthStatus {
	return f.health
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProgress(t *testing.T) {
	eta := int64(30)
	tests := []struct {
		name     string
		progress progress.Progress
		expected string
	}{
		{
			name:     "with eta",
			progress: progress.Progress{PercentCompletion: 25, RemainingSeconds: &eta},
			expected: `{"percent_completion":25,"total_seconds":30}`,
		},
		{
			name:     "eta omitted",
			progress: progress.Progress{},
			expected: `{"percent_completion":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(&fakeProcessor{progress: tt.progress}, nil)

			rec := serve(t, router, http.MethodGet, "/progress")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tt.expected, rec.Body.String())
		})
	}
}

func TestStatus(t *testing.T) {
	router := NewRouter(&fakeProcessor{status: core.Status{
		Identifier: "wp_1",
		Running:    true,
		Queued:     3,
		Action:     item.ActionImport,
	}}, nil)

	rec := serve(t, router, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "imported", body["verb"])
	assert.Equal(t, float64(3), body["queued"])
	assert.Contains(t, body["message"], "Coupons are being imported")
}

func TestResultIsShownOnce(t *testing.T) {
	fake := &fakeProcessor{result: &item.RunResult{Action: item.ActionImportEmail, Successful: 1}}
	router := NewRouter(fake, nil)

	rec := serve(t, router, http.MethodGet, "/result")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "import_email", body["action"])
	assert.Equal(t, float64(1), body["successful"])
	assert.Equal(t, "Coupon import", body["title"])
	assert.Equal(t, "added & emailed", body["verb"])
	assert.Equal(t, "Coupon import: Successfully added & emailed 1 coupon.", body["message"])

	rec = serve(t, router, http.MethodGet, "/result")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRun(t *testing.T) {
	tests := []struct {
		name           string
		outcome        core.Outcome
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{name: "rearmed", outcome: core.OutcomeRearmed, expectedStatus: http.StatusOK, expectedBody: "rearmed"},
		{name: "completed", outcome: core.OutcomeCompleted, expectedStatus: http.StatusOK, expectedBody: "completed"},
		{name: "locked", outcome: core.OutcomeLocked, expectedStatus: http.StatusConflict, expectedBody: "locked"},
		{name: "store failure", outcome: core.OutcomeFailed, err: fmt.Errorf("store down"), expectedStatus: http.StatusInternalServerError, expectedBody: "store down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeProcessor{outcome: tt.outcome, runErr: tt.err}
			router := NewRouter(fake, nil)

			rec := serve(t, router, http.MethodPost, "/run")
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			assert.Equal(t, 1, fake.runs)
		})
	}
}

func TestRun_MethodNotAllowed(t *testing.T) {
	fake := &fakeProcessor{}
	rec := serve(t, NewRouter(fake, nil), http.MethodGet, "/run")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, fake.runs)
}

func TestHealth(t *testing.T) {
	healthy := NewRouter(&fakeProcessor{health: core.HealthStatus{Healthy: true, LastCheck: time.Now()}}, nil)
	assert.Equal(t, http.StatusOK, serve(t, healthy, http.MethodGet, "/health").Code)

	unhealthy := NewRouter(&fakeProcessor{health: core.HealthStatus{StoreHealth: fmt.Errorf("connection refused")}}, nil)
	rec := serve(t, unhealthy, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "connection refused", decode(t, rec)["error"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "couponqueue_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec := serve(t, NewRouter(&fakeProcessor{}, reg), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "couponqueue_test_total 1"))

	rec = serve(t, NewRouter(&fakeProcessor{}, nil), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
