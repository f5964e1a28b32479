package gridsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// NOMINAL STATE INVARIANTS
// ============================================================================

func TestNew_VoltageWindowNominal(t *testing.T) {
	sim := New()
	voltages := sim.GetBusVoltages()
	require.Len(t, voltages, busCount)
	for bus, v := range voltages {
		assert.GreaterOrEqual(t, v, 0.90, "bus %d below nominal window", bus)
		assert.LessOrEqual(t, v, 1.10, "bus %d above nominal window", bus)
	}
}

func TestNew_PowerBalance(t *testing.T) {
	sim := New()
	gen := sim.GetTotalGeneration()
	load := sim.GetTotalLoad()
	losses := sim.GetTotalLosses()
	assert.InDelta(t, gen, load+losses, 1.0)
}

// ============================================================================
// SNAPSHOT / VALIDATE CONTRACT
// ============================================================================

func TestValidateAction_RoundTrip(t *testing.T) {
	sim := New()
	before := sim.State()

	result := sim.ValidateAction(func(s *Simulation) error {
		return s.SetGeneratorOutput(0, before.Generators[0].PMW+30)
	})
	require.NoError(t, result.Err)

	after := sim.State()
	for i := range before.Generators {
		assert.InDelta(t, before.Generators[i].PMW, after.Generators[i].PMW, 1e-3)
	}
	for i := range before.Buses {
		assert.InDelta(t, before.Buses[i].VmPU, after.Buses[i].VmPU, 1e-3)
	}
}

func TestValidateAction_DoesNotLeakSandbox(t *testing.T) {
	sim := New()
	snapIdx := sim.SaveSnapshot()

	require.NoError(t, sim.SetGeneratorOutput(0, 150))
	mutated := sim.GetTotalGeneration()

	unrelated := sim.ValidateAction(func(s *Simulation) error {
		return s.ScaleLoad(0, 1.01)
	})
	_ = unrelated

	assert.Equal(t, mutated, sim.GetTotalGeneration())

	require.NoError(t, sim.RestoreSnapshot(snapIdx))
}

func TestValidateAction_PreExistingViolationNotBlocking(t *testing.T) {
	sim := New()
	require.NoError(t, sim.SetShuntStatus(0, false))
	require.NoError(t, sim.ScaleLoad(0, 30))

	violationsBefore := sim.CheckViolations()
	require.NotEmpty(t, violationsBefore, "expected the scaled load to introduce a violation")

	result := sim.ValidateAction(func(s *Simulation) error {
		return s.SetShuntStatus(2, true)
	})
	assert.True(t, result.Safe, "an action touching an unrelated component must not be blocked by a pre-existing violation")
}

// ============================================================================
// ZONE PARTITION
// ============================================================================

func TestZonePartition_BusesAreDisjoint(t *testing.T) {
	seen := map[int]string{}
	for _, zone := range ZoneIDs() {
		for _, bus := range ZoneBuses(zone) {
			if other, ok := seen[bus]; ok {
				t.Fatalf("bus %d claimed by both %s and %s", bus, other, zone)
			}
			seen[bus] = zone
		}
	}
	assert.Len(t, seen, busCount)
}

func TestGetZoneLines_TieLinesBelongToNoZone(t *testing.T) {
	sim := New()
	total := 0
	for _, zone := range ZoneIDs() {
		total += len(sim.GetZoneLines(zone))
	}
	assert.Less(t, total, len(caseBranches)-len(transformerBranches))
}

// ============================================================================
// NON-CONVERGENCE
// ============================================================================

func TestSetLineStatus_NonConvergenceReverts(t *testing.T) {
	sim := New()
	before := sim.GetTotalGeneration()

	sim.SetConvergenceHook(func() bool { return true })
	err := sim.SetLineStatus(0, false)
	require.Error(t, err)

	sim.SetConvergenceHook(nil)
	assert.Equal(t, before, sim.GetTotalGeneration())
}
