package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/audit"
	"github.com/ocx/gridguardian/pkg/gridsim"
)

func openTestLog(t *testing.T) *audit.Log {
	t.Helper()
	log, err := audit.Open("")
	require.NoError(t, err)
	return log
}

func TestPowerGrid_CreatesOneCoordinatorPerZone(t *testing.T) {
	adapter := NewPowerGrid()
	sim := gridsim.New()

	coordinators := adapter.CreateCoordinators(sim, nil, openTestLog(t), 3)
	assert.Len(t, coordinators, len(gridsim.ZoneIDs()))
}

func TestPowerGrid_CreatesFiveActuatorsPerZone(t *testing.T) {
	adapter := NewPowerGrid()
	sim := gridsim.New()

	actuators := adapter.CreateActuators(sim)
	assert.Len(t, actuators, 5*len(gridsim.ZoneIDs()))
}

func TestStubAdapters_ReturnEmptyFactories(t *testing.T) {
	sim := gridsim.New()
	for _, adapter := range []Adapter{NewRobotics(), NewSatellite()} {
		assert.Empty(t, adapter.CreateSensors(sim))
		assert.Empty(t, adapter.CreateActuators(sim))
		assert.Empty(t, adapter.CreateCoordinators(sim, nil, openTestLog(t), 3))
	}
}
