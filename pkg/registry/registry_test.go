package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_UpsertsAndActivates(t *testing.T) {
	r := New("")
	reg := r.Register(Registration{ServerID: "sensor-voltage-zone1-a1b2", Tier: TierPhysical, Domain: "power_grid", Zone: "zone1"})

	assert.Equal(t, StatusActive, reg.Status)
	assert.False(t, reg.RegisteredAt.IsZero())

	got, ok := r.Get("sensor-voltage-zone1-a1b2")
	require.True(t, ok)
	assert.Equal(t, StatusActive, got.Status)
}

func TestUnregister_RemovesEndpoint(t *testing.T) {
	r := New("")
	r.Register(Registration{ServerID: "s1", Tier: TierPhysical})

	assert.True(t, r.Unregister("s1"))
	_, ok := r.Get("s1")
	assert.False(t, ok)
	assert.False(t, r.Unregister("s1"))
}

func TestHeartbeat_BumpsLastHeartbeat(t *testing.T) {
	r := New("")
	r.Register(Registration{ServerID: "s1", Tier: TierPhysical})
	first, _ := r.Get("s1")

	time.Sleep(5 * time.Millisecond)
	require.True(t, r.Heartbeat("s1"))

	second, _ := r.Get("s1")
	assert.True(t, second.LastHeartbeat.After(first.LastHeartbeat))
}

func TestList_FiltersByTierDomainZoneStatus(t *testing.T) {
	r := New("")
	r.Register(Registration{ServerID: "s1", Tier: TierPhysical, Domain: "power_grid", Zone: "zone1"})
	r.Register(Registration{ServerID: "s2", Tier: TierCoordination, Domain: "power_grid", Zone: "zone2"})

	zone1 := r.List(ListFilter{Zone: "zone1"})
	require.Len(t, zone1, 1)
	assert.Equal(t, "s1", zone1[0].ServerID)

	coordinators := r.List(ListFilter{Tier: TierCoordination})
	require.Len(t, coordinators, 1)
	assert.Equal(t, "s2", coordinators[0].ServerID)
}

func TestFlattenTools_IncludesEveryRegisteredTool(t *testing.T) {
	r := New("")
	r.Register(Registration{
		ServerID: "s1",
		Name:     "voltage_sensor_zone1",
		Tools: []ToolDescriptor{
			{Name: "read_sensor", SafetyClass: SafetyReadOnly},
			{Name: "set_threshold", SafetyClass: SafetyLowRisk},
		},
	})

	flat := r.FlattenTools()
	require.Len(t, flat, 2)
	assert.Equal(t, "s1", flat[0].ServerID)
}

func TestSweepNow_MarksStaleAfterHeartbeatAge(t *testing.T) {
	r := New("")
	r.Register(Registration{ServerID: "s1", Tier: TierPhysical})

	r.mu.Lock()
	reg := r.servers["s1"]
	reg.LastHeartbeat = time.Now().Add(-61 * time.Second)
	r.servers["s1"] = reg
	r.mu.Unlock()

	r.sweepNow()

	got, _ := r.Get("s1")
	assert.Equal(t, StatusStale, got.Status)
}
