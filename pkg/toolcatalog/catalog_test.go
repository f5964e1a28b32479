package toolcatalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/registry"
)

type stubEndpoint struct {
	serverID string
	invoked  string
	result   any
	err      error
}

func (s *stubEndpoint) ServerID() string                        { return s.serverID }
func (s *stubEndpoint) Registration() registry.Registration     { return registry.Registration{ServerID: s.serverID} }
func (s *stubEndpoint) Invoke(_ context.Context, tool string, _ map[string]any) (any, error) {
	s.invoked = tool
	return s.result, s.err
}

func TestExternalName_UnderscoresSpacesStripsParensAndLowercases(t *testing.T) {
	assert.Equal(t, "voltage_sensor_zone1_read_sensor", ExternalName("Voltage Sensor (Zone1)", "read_sensor"))
}

func TestBuild_DerivesExternalNamesFromFlattenedTools(t *testing.T) {
	c := New()
	c.Build([]registry.ToolWithServer{
		{ServerID: "s1", Server: "breaker_zone1", Tool: registry.ToolDescriptor{Name: "control", SafetyClass: registry.SafetyMediumRisk}},
	})

	entry, ok := c.Get("breaker_zone1_control")
	require.True(t, ok)
	assert.Equal(t, "s1", entry.ServerID)
	assert.Equal(t, "control", entry.OriginalName)
}

func TestActuatorTools_FiltersOutReadOnlyTools(t *testing.T) {
	c := New()
	c.Build([]registry.ToolWithServer{
		{ServerID: "s1", Server: "breaker", Tool: registry.ToolDescriptor{Name: "control", SafetyClass: registry.SafetyMediumRisk}},
		{ServerID: "s2", Server: "voltage", Tool: registry.ToolDescriptor{Name: "read_sensor", SafetyClass: registry.SafetyReadOnly}},
	})

	actuatorOnly := c.ActuatorTools()
	require.Len(t, actuatorOnly, 1)
	assert.Equal(t, "breaker_control", actuatorOnly[0].ExternalName)
}

func TestActuatorTools_FallsBackToCapWhenNoActuatorToolsExist(t *testing.T) {
	c := New()
	c.Build([]registry.ToolWithServer{
		{ServerID: "s1", Server: "voltage", Tool: registry.ToolDescriptor{Name: "read_sensor", SafetyClass: registry.SafetyReadOnly}},
	})

	fallback := c.ActuatorTools()
	assert.Len(t, fallback, 1)
}

func TestInvoke_DispatchesThroughLiveEndpoint(t *testing.T) {
	c := New()
	c.Build([]registry.ToolWithServer{
		{ServerID: "s1", Server: "breaker", Tool: registry.ToolDescriptor{Name: "control"}},
	})
	ep := &stubEndpoint{serverID: "s1", result: map[string]any{"applied": true}}
	c.RegisterLiveEndpoint("s1", ep)

	got := c.Invoke(context.Background(), "breaker_control", map[string]any{"id": "line_1"})
	assert.Equal(t, map[string]any{"applied": true}, got)
	assert.Equal(t, "control", ep.invoked)
}

func TestInvoke_ReturnsNoLiveServerWhenEndpointMissing(t *testing.T) {
	c := New()
	c.Build([]registry.ToolWithServer{
		{ServerID: "s1", Server: "breaker", Tool: registry.ToolDescriptor{Name: "control"}},
	})

	got := c.Invoke(context.Background(), "breaker_control", nil)
	errPayload, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "no_live_server", errPayload["error"])
}

func TestInvoke_ReturnsUnknownToolWhenNameNotInCatalog(t *testing.T) {
	c := New()
	got := c.Invoke(context.Background(), "does_not_exist", nil)
	errPayload, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unknown_tool", errPayload["error"])
}
