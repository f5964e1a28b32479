package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
)

type stubZone struct {
	id     string
	result map[string]any
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubZone) ZoneID() string { return s.id }
func (s *stubZone) ExecuteSafetyRules() map[string]any {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.result
}

type stubAgent struct {
	response string
	calls    atomic.Int32
}

func (a *stubAgent) Query(_ context.Context, _ string, _ bool) string {
	a.calls.Add(1)
	return a.response
}

func TestRunCycle_PublishesHealthyStateWhenNoViolations(t *testing.T) {
	sim := gridsim.New()
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.ChannelGridState)

	l := New(sim, nil, nil, bus, time.Second)
	l.runCycle(context.Background())

	select {
	case msg := <-sub:
		assert.Equal(t, eventbus.ChannelGridState, msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected a grid_state publish")
	}
}

func TestDispatchZones_EscalatesZoneWithNoRegisteredCoordinator(t *testing.T) {
	l := New(gridsim.New(), map[string]ZoneEngine{}, nil, nil, time.Second)

	escalated := l.dispatchZones(context.Background(), map[string]int{"zone1": 2})
	assert.Equal(t, []string{"zone1"}, escalated)
}

func TestDispatchZones_DoesNotEscalateWhenZoneResolvesCleanly(t *testing.T) {
	zone := &stubZone{id: "zone1", result: map[string]any{"status": "ok"}}
	l := New(gridsim.New(), map[string]ZoneEngine{"zone1": zone}, nil, nil, time.Second)

	escalated := l.dispatchZones(context.Background(), map[string]int{"zone1": 1})
	assert.Empty(t, escalated)
	assert.Equal(t, int32(1), zone.calls.Load())
}

func TestDispatchZones_EscalatesWhenZoneReportsEscalationRequired(t *testing.T) {
	zone := &stubZone{id: "zone1", result: map[string]any{"status": "escalation_required"}}
	l := New(gridsim.New(), map[string]ZoneEngine{"zone1": zone}, nil, nil, time.Second)

	escalated := l.dispatchZones(context.Background(), map[string]int{"zone1": 3})
	assert.Equal(t, []string{"zone1"}, escalated)
}

func TestEscalate_CallsStrategicAgentForEscalatedZone(t *testing.T) {
	sim := gridsim.New()
	// Every power-flow run now reports non-convergence, so no mutation can
	// change the grid while the escalation runs.
	sim.SetConvergenceHook(func() bool { return true })

	zone := &stubZone{id: "zone1", result: map[string]any{"status": "escalation_required"}}
	ag := &stubAgent{response: "handled"}
	bus := eventbus.New()

	l := New(sim, map[string]ZoneEngine{"zone1": zone}, ag, bus, time.Second)
	violations := []gridsim.Violation{{Kind: gridsim.ViolationFrequency, Zone: "zone1", Severity: gridsim.SeverityCritical, ComponentID: "frequency"}}
	l.escalate(context.Background(), []string{"zone1"}, violations)

	require.Equal(t, int32(1), ag.calls.Load())
}

func TestBuildDirective_ListsRealDeviceIdsAndGroupsViolationsByKind(t *testing.T) {
	sim := gridsim.New()
	l := New(sim, nil, nil, nil, time.Second)

	violations := []gridsim.Violation{
		{Kind: gridsim.ViolationVoltageLow, Zone: "zone1", ComponentID: gridsim.BusComponentID(3)},
		{Kind: gridsim.ViolationThermal, Zone: "zone1", ComponentID: gridsim.LineComponentID(5)},
	}

	directive := l.buildDirective([]string{"zone1"}, violations)

	assert.Contains(t, directive, "Low-voltage buses: "+gridsim.BusComponentID(3))
	assert.Contains(t, directive, "Overloaded lines: "+gridsim.LineComponentID(5))
	assert.Contains(t, directive, "Devices available in the affected zones")
	assert.Contains(t, directive, gridsim.GeneratorComponentID(0))
	assert.Contains(t, directive, "Proposed first actions:")
	assert.Contains(t, directive, "raise "+gridsim.GeneratorComponentID(0))
	assert.Contains(t, directive, "to relieve thermal overload")
}

func TestBuildDirective_IgnoresViolationsOutsideEscalatedZones(t *testing.T) {
	sim := gridsim.New()
	l := New(sim, nil, nil, nil, time.Second)

	violations := []gridsim.Violation{
		{Kind: gridsim.ViolationVoltageLow, Zone: "zone2", ComponentID: gridsim.BusComponentID(15)},
	}

	directive := l.buildDirective([]string{"zone1"}, violations)

	assert.NotContains(t, directive, gridsim.BusComponentID(15))
}

func TestStop_ReturnsPromptlyWhenLoopWasNeverStarted(t *testing.T) {
	l := New(gridsim.New(), nil, nil, nil, time.Second)
	l.Stop() // must not block or panic
}

func TestRunCycle_JittersLoadWhenVaryLoadsEnabled(t *testing.T) {
	sim := gridsim.New()
	before := sim.State().Loads

	l := New(sim, nil, nil, nil, time.Second)
	l.SetVaryLoads(true)
	l.runCycle(context.Background())

	after := sim.State().Loads
	changed := false
	for i := range before {
		if before[i].PMW != after[i].PMW {
			changed = true
			break
		}
	}
	assert.True(t, changed, "expected exactly one load's demand to shift")
}

func TestRunCycle_LeavesLoadsUntouchedWhenVaryLoadsDisabled(t *testing.T) {
	sim := gridsim.New()
	before := sim.State().Loads

	l := New(sim, nil, nil, nil, time.Second)
	l.runCycle(context.Background())

	after := sim.State().Loads
	for i := range before {
		assert.Equal(t, before[i].PMW, after[i].PMW)
	}
}
