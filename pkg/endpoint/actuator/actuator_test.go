package actuator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/gridsim"
)

func TestControl_ReturnsPreviousAndNewStateSnapshotsOnRealMutation(t *testing.T) {
	sim := gridsim.New()
	a := NewGenerator(sim, "zone1")

	result, err := a.Invoke(context.Background(), "control", map[string]any{
		"id":     "gen_0",
		"action": "set_output",
		"value":  75.0,
		// validation re-runs the power flow under the hood; skip it here so
		// the assertion is only about the before/after snapshot shape.
		"validate": false,
	})
	require.NoError(t, err)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.True(t, out["applied"].(bool))

	previous, ok := out["previous_state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 40.0, previous["p_mw"])

	current, ok := out["new_state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 75.0, current["p_mw"])
}

func TestControl_RejectsUnknownAction(t *testing.T) {
	sim := gridsim.New()
	a := NewGenerator(sim, "zone1")

	_, err := a.Invoke(context.Background(), "control", map[string]any{
		"id":     "gen_0",
		"action": "explode",
	})
	assert.Error(t, err)
}
