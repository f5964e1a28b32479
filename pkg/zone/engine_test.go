package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/audit"
	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
)

func newTestEngine(t *testing.T, deadband int) *Engine {
	t.Helper()
	sim := gridsim.New()
	bus := eventbus.New()
	log, err := audit.Open("")
	require.NoError(t, err)
	return New("zone1", sim, bus, log, deadband)
}

func TestDetectViolations_EmptyOnFreshGrid(t *testing.T) {
	e := newTestEngine(t, 3)
	violations := e.DetectViolations()
	assert.Equal(t, 0, violations["count"])
}

func TestExecuteSafetyRules_EscalatesAfterDeadbandConsecutiveCycles(t *testing.T) {
	e := newTestEngine(t, 2)

	e.mu.Lock()
	e.settings.UnderVoltagePU = 2.0 // force every bus to read as a violation
	e.mu.Unlock()

	first := e.ExecuteSafetyRules()
	assert.Equal(t, "deterministic_plc", first["mode"])

	second := e.ExecuteSafetyRules()
	assert.Equal(t, "escalation_required", second["status"])
	assert.Equal(t, StateEscalating, e.CurrentState())
}

func TestExecuteSafetyRules_ResetsDeadbandOnceViolationsClear(t *testing.T) {
	e := newTestEngine(t, 2)

	e.mu.Lock()
	e.settings.UnderVoltagePU = 2.0
	e.mu.Unlock()
	e.ExecuteSafetyRules()

	e.mu.Lock()
	e.settings.UnderVoltagePU = gridsim.UnderVoltagePU
	e.mu.Unlock()
	e.ExecuteSafetyRules()

	e.mu.Lock()
	consecutive := e.consecutiveViolations
	e.mu.Unlock()
	assert.Equal(t, 0, consecutive)
}

func TestExecuteSafetyRules_StateFollowsConsecutiveViolationCount(t *testing.T) {
	e := newTestEngine(t, 4)

	e.mu.Lock()
	e.settings.UnderVoltagePU = 2.0
	e.mu.Unlock()

	e.ExecuteSafetyRules()
	assert.Equal(t, StateWarning, e.CurrentState())

	e.ExecuteSafetyRules()
	assert.Equal(t, StateAlarm, e.CurrentState())

	e.ExecuteSafetyRules()
	assert.Equal(t, StateAlarm, e.CurrentState())

	e.mu.Lock()
	e.settings.UnderVoltagePU = gridsim.UnderVoltagePU
	e.mu.Unlock()
	e.ExecuteSafetyRules()
	assert.Equal(t, StateNormal, e.CurrentState())
}

func TestEmergencyIslanding_OpensTieLinesAndReportsSuccess(t *testing.T) {
	e := newTestEngine(t, 3)
	result := e.EmergencyIslanding("test")
	assert.Equal(t, true, result["islanded"])
}

func TestUpdateProtectionSettings_RevisesThresholdsAndLogsAudit(t *testing.T) {
	e := newTestEngine(t, 3)
	result := e.UpdateProtectionSettings(map[string]any{"under_voltage_pu": 0.90})

	assert.Equal(t, "success", result["status"])
	e.mu.Lock()
	got := e.settings.UnderVoltagePU
	e.mu.Unlock()
	assert.Equal(t, 0.90, got)

	entries := e.audit.RecentForZone("zone1", 0)
	require.NotEmpty(t, entries)
	assert.Equal(t, audit.EventSettingsUpdated, entries[len(entries)-1].EventType)
}

func TestBalanceLoading_ReportsLineLoadings(t *testing.T) {
	e := newTestEngine(t, 3)
	result := e.BalanceLoading(10) // aggressive target forces visible scaling
	assert.Contains(t, result, "line_loadings")
}
