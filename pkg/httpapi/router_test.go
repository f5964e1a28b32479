package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
	"github.com/ocx/gridguardian/pkg/registry"
	"github.com/ocx/gridguardian/pkg/toolcatalog"
)

func newTestServer() *Server {
	reg := registry.New("")
	return New(reg, toolcatalog.New(), eventbus.New(), nil, gridsim.New(), []string{"http://localhost:3000"})
}

func TestHandleHealth_ReportsServerCounts(t *testing.T) {
	s := newTestServer()
	s.reg.Register(registry.Registration{ServerID: "s1"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total_servers"])
}

func TestHandleRegister_StoresAndEchoesRegistration(t *testing.T) {
	s := newTestServer()
	reg := registry.Registration{ServerID: "s1", Name: "voltage_zone1"}
	encoded, _ := json.Marshal(reg)

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	stored, ok := s.reg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, registry.StatusActive, stored.Status)
}

func TestHandleUnregister_ReturnsNotFoundForUnknownID(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodDelete, "/unregister/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSMiddleware_EchoesAllowedOriginOnly(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.Header.Set("Origin", "http://evil.example")
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	assert.Empty(t, rec2.Header().Get("Access-Control-Allow-Origin"))
}

func TestDispatchCommand_TriggerScenarioInjectsLineOverload(t *testing.T) {
	s := newTestServer()

	result := s.dispatchCommand(nil, command{
		Action:  "trigger_scenario",
		Payload: map[string]any{"name": "line_overload", "bus": float64(7), "delta_mw": float64(50)},
	})
	assert.Equal(t, "triggered", result["status"])
}

func TestDispatchCommand_UnknownActionReturnsError(t *testing.T) {
	s := newTestServer()

	result := s.dispatchCommand(nil, command{Action: "not_a_real_action"})
	assert.Equal(t, "unknown_action", result["error"])
}

func TestDispatchCommand_NLQueryWithoutAgentConfiguredReturnsError(t *testing.T) {
	s := newTestServer()

	result := s.dispatchCommand(nil, command{Action: "nl_query", Payload: map[string]any{"message": "status?"}})
	assert.Contains(t, result["error"], "strategic agent not configured")
}
