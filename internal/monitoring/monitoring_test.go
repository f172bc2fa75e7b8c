package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	mode     string
	override bool
	age      time.Duration
	hasAge   bool
}

func (f fakeStatus) ModeName() string { return f.mode }
func (f fakeStatus) Overridden() bool { return f.override }
func (f fakeStatus) SnapshotAge() (time.Duration, bool) { return f.age, f.hasAge }

func TestHealthChecker_Status(t *testing.T) {
	tests := []struct {
		name     string
		provider StatusProvider
		errs     []string
		want     string
		code     int
	}{
		{"running and fresh", fakeStatus{mode: "RUNNING", age: time.Second, hasAge: true}, nil, "healthy", http.StatusOK},
		{"stale snapshot", fakeStatus{mode: "RUNNING", age: time.Minute, hasAge: true}, nil, "degraded", http.StatusServiceUnavailable},
		{"no snapshot", fakeStatus{mode: "RUNNING"}, nil, "degraded", http.StatusServiceUnavailable},
		{"halted", fakeStatus{mode: "HALTED", age: time.Second, hasAge: true}, nil, "degraded", http.StatusServiceUnavailable},
		{"errors recorded", fakeStatus{mode: "RUNNING", age: time.Second, hasAge: true}, []string{"audit sink failed"}, "unhealthy", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.provider, 10*time.Second)
			for _, e := range tt.errs {
				h.RecordError(e)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.code, rec.Code)

			var body HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
		})
	}
}

func TestHealthChecker_KeepsRecentErrors(t *testing.T) {
	h := NewHealthChecker(fakeStatus{mode: "RUNNING", hasAge: true}, 0)
	for i := 0; i < 30; i++ {
		h.RecordError("e")
	}
	assert.Len(t, h.Status().Errors, 20)
	h.ClearErrors()
	assert.Equal(t, "healthy", h.Status().Status)
}

func TestMetricsHandler_ExposesGuardianMetrics(t *testing.T) {
	SetMode(2)
	RecordGateVerdict("throttle", false)

	rec := httptest.NewRecorder()
	NewMetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "guardian_mode 2"))
	assert.Contains(t, body, `guardian_gate_verdicts_total{gate="throttle",result="rejected"}`)
}
