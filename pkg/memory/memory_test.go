package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetContextSummary_ReportsNoDecisionsOnEmptyStore(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	assert.Equal(t, "No previous decisions on record.", s.GetContextSummary())
}

func TestStoreDecision_RoundTripsThroughGetRecentDecisions(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	s.StoreDecision(Decision{DecisionID: "d1", Trigger: "line_12 overloaded", Reasoning: "opened breaker"})
	s.StoreDecision(Decision{DecisionID: "d2", Trigger: "bus 4 undervoltage", Reasoning: "activated shunt"})

	recent := s.GetRecentDecisions(5)
	require.Len(t, recent, 2)

	found, ok := s.GetDecision("d1")
	require.True(t, ok)
	assert.Equal(t, "line_12 overloaded", found.Trigger)
}

func TestGetContextSummary_IncludesDecisionCountAfterStoring(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	s.StoreDecision(Decision{DecisionID: "d1", Trigger: "test"})

	assert.Contains(t, s.GetContextSummary(), "Total decisions in memory: 1")
}

func TestStoreContext_GetLatestContextReturnsMostRecentValue(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	s.StoreContext("grid_snapshot", map[string]any{"frequency": 60.0})
	s.StoreContext("grid_snapshot", map[string]any{"frequency": 59.8})

	var out map[string]any
	ok := s.GetLatestContext("grid_snapshot", &out)
	require.True(t, ok)
	assert.Equal(t, 59.8, out["frequency"])
}

func TestGetLatestContext_ReturnsFalseForUnknownKey(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	var out map[string]any
	ok := s.GetLatestContext("does_not_exist", &out)
	assert.False(t, ok)
}
