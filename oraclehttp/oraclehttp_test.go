package oraclehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/analytics"
	"github.com/netwatch/telemetry/ingest"
	"github.com/netwatch/telemetry/store/memory"
)

type okChecker struct{}

func (okChecker) Check(context.Context) error { return nil }

type failChecker struct{}

func (failChecker) Check(context.Context) error { return assertErr{} }

type assertErr struct{}

func (assertErr) Error() string { return "down" }

func newTestServer() *Server {
	kv := memory.New()
	as := memory.NewAlertStore()
	in := ingest.New(ingest.Config{}, kv, as, nil, zerolog.Nop())
	an := analytics.New(analytics.Config{}, as)
	return New(":0", in, an, map[string]ServiceChecker{"database": okChecker{}, "reasoning_service": failChecker{}})
}

func TestHealthReportsServiceStatuses(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	services := body["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "unavailable", services["reasoning_service"])
}

func TestPostAlertReturnsReceived(t *testing.T) {
	s := newTestServer()
	a := alert.Alert{Source: "bridge", Type: alert.TypeNetworkAnomaly, Severity: alert.SeverityHigh, Description: "x"}
	body, err := json.Marshal(a)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/alerts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "received", resp["status"])
	assert.NotEmpty(t, resp["alert_id"])
}

func TestGetAnalyticsDefaultsWindow(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "risk_score")
	assert.Contains(t, resp, "threshold_recommendation")
}
