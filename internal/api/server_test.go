package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-guardian/internal/config"
	"github.com/ducminhle1904/futures-guardian/internal/guardian"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/orchestrator"
	"github.com/ducminhle1904/futures-guardian/internal/safety"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Service) {
	t.Helper()
	dir := t.TempDir()
	now := time.Now()

	snap := types.Snapshot{
		Timestamp: now,
		Quotes: map[string]types.Quote{
			"BTCUSDT": {
				Symbol: "BTCUSDT", LastPrice: 60000, LastQuoteTime: now,
				Session: types.SessionContinuous, Multiplier: 1, MarginRate: 0.1,
			},
		},
		Account: types.Account{
			Equity:     100000,
			UsedMargin: 6000,
			Positions:  []types.Position{{Symbol: "BTCUSDT", Quantity: 1, Notional: 60000, Margin: 6000}},
		},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	snapshotFile := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(snapshotFile, data, 0644))

	cfg := config.DefaultGuardianConfig()
	cfg.Exchange.Source = config.SourceFile
	cfg.Exchange.SnapshotFile = snapshotFile
	cfg.State.Dir = filepath.Join(dir, "state")
	require.NoError(t, cfg.Validate())

	svc, err := orchestrator.NewService(logger.NewNop(), cfg, orchestrator.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	return NewServer(logger.NewNop(), svc, cfg.Server), svc
}

// start primes one evaluation and moves the machine to RUNNING
func start(t *testing.T, svc *orchestrator.Service) {
	t.Helper()
	svc.Loop().RunOnce(t.Context())
	require.True(t, svc.Machine().Initialize())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v))
}

func TestServer_Health(t *testing.T) {
	s, svc := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "INIT is not healthy")

	start(t, svc)
	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"RUNNING"`)
}

func TestServer_Metrics(t *testing.T) {
	s, svc := newTestServer(t)
	start(t, svc)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guardian_mode")
}

func TestServer_ModeLifecycle(t *testing.T) {
	s, svc := newTestServer(t)
	start(t, svc)

	var mode modeResponse
	rec := do(t, s, http.MethodGet, "/api/mode", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &mode)
	assert.Equal(t, types.ModeRunning, mode.Mode)
	assert.False(t, mode.Overridden)
	assert.Equal(t, uint64(1), mode.SnapshotVersion)
	assert.Len(t, mode.Triggers, 6)

	rec = do(t, s, http.MethodPost, "/api/mode", `{"mode":"halted"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a reason is required")

	rec = do(t, s, http.MethodPost, "/api/mode", `{"mode":"SIDEWAYS","reason":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/mode", `{"mode":"manual_override","reason":"exchange maintenance"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr guardian.TransitionRecord
	decode(t, rec, &tr)
	assert.Equal(t, types.ModeRunning, tr.PreviousMode)
	assert.Equal(t, types.ModeManualOverride, tr.NewMode)
	assert.True(t, tr.Override)
	assert.True(t, svc.Machine().Overridden())

	rec = do(t, s, http.MethodPost, "/api/mode/release", `{"reason":"maintenance over"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ModeHalted, svc.Machine().Mode(), "release from MANUAL_OVERRIDE parks in HALTED")

	rec = do(t, s, http.MethodPost, "/api/mode/release", `{"reason":"again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Transitions(t *testing.T) {
	s, svc := newTestServer(t)
	start(t, svc)
	_, err := svc.Machine().ManualSetMode(types.ModeReduceOnly, "desk request")
	require.NoError(t, err)

	var all []guardian.TransitionRecord
	rec := do(t, s, http.MethodGet, "/api/transitions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &all)
	require.Len(t, all, 2)
	assert.Equal(t, guardian.CauseInitialize, all[0].Cause)

	var last []guardian.TransitionRecord
	rec = do(t, s, http.MethodGet, "/api/transitions?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &last)
	require.Len(t, last, 1)
	assert.Equal(t, guardian.CauseManual, last[0].Cause)

	rec = do(t, s, http.MethodGet, "/api/transitions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_OrderCheck(t *testing.T) {
	s, svc := newTestServer(t)
	start(t, svc)

	var d safety.Decision
	rec := do(t, s, http.MethodPost, "/api/orders/check",
		`{"account":"main","symbol":"BTCUSDT","side":"SELL","quantity":0.1,"price":60000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &d)
	assert.True(t, d.Accepted, d.Reason)
	assert.NotEmpty(t, d.OrderID)

	_, err := svc.Machine().ManualSetMode(types.ModeHalted, "stop")
	require.NoError(t, err)

	rec = do(t, s, http.MethodPost, "/api/orders/check",
		`{"account":"main","symbol":"BTCUSDT","side":"BUY","quantity":0.1,"price":60000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	d = safety.Decision{}
	decode(t, rec, &d)
	assert.False(t, d.Accepted)
	assert.Equal(t, "mode", d.FailedGate)

	rec = do(t, s, http.MethodPost, "/api/orders/check", `{"symbol":"BTCUSDT","leverage":50}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestServer_Targets(t *testing.T) {
	s, svc := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/targets", `{"targets":[{"symbol":"BTCUSDT","quantity":2}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no snapshot before the first cycle")

	start(t, svc)
	var res guardian.FilterResult
	rec = do(t, s, http.MethodPost, "/api/targets", `{"targets":[{"symbol":"BTCUSDT","quantity":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.Equal(t, 2.0, res.Targets[0].Quantity)
	assert.Empty(t, res.Adjustments)

	_, err := svc.Machine().ManualSetMode(types.ModeReduceOnly, "cooling off")
	require.NoError(t, err)

	res = guardian.FilterResult{}
	rec = do(t, s, http.MethodPost, "/api/targets", `{"targets":[{"symbol":"BTCUSDT","quantity":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.Equal(t, types.ModeReduceOnly, res.Mode)
	assert.Equal(t, 1.0, res.Targets[0].Quantity, "cannot grow a position in REDUCE_ONLY")
	require.Len(t, res.Adjustments, 1)
}

func TestServer_Risk(t *testing.T) {
	s, svc := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/risk", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	start(t, svc)
	svc.Monitor().RunOnce(time.Now())
	rec = do(t, s, http.MethodGet, "/api/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stress"`)
	assert.Contains(t, rec.Body.String(), `"equity":100000`)
}

func TestServer_OperatorWritesAreRateLimited(t *testing.T) {
	s, svc := newTestServer(t)
	start(t, svc)

	limited := false
	for i := 0; i < 30; i++ {
		rec := do(t, s, http.MethodPost, "/api/mode", `{"mode":"REDUCE_ONLY","reason":"loop"}`)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}
