package guardian

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/llm"
)

func command() map[string]any {
	return map[string]any{
		"action": "trip_line",
		"target": "line_12",
		"parameters": map[string]any{
			"reason": "thermal overload",
		},
	}
}

func TestValidateCommand_ApprovesWellFormedSafeVerdict(t *testing.T) {
	oracle := llm.NewMockClient("mock", func(string) string {
		return `{"safe": true, "risk_level": "LOW", "reasoning": "within normal operating bounds", "conditions": []}`
	})
	g := New(oracle, eventbus.New())

	v := g.ValidateCommand(context.Background(), command())

	assert.True(t, v.Safe)
	assert.Equal(t, RiskLow, v.RiskLevel)
}

func TestValidateCommand_StripsMarkdownCodeFenceBeforeParsing(t *testing.T) {
	oracle := llm.NewMockClient("mock", func(string) string {
		return "```json\n{\"safe\": false, \"risk_level\": \"CRITICAL\", \"reasoning\": \"would island a load center\", \"conditions\": [\"operator approval\"]}\n```"
	})
	g := New(oracle, eventbus.New())

	v := g.ValidateCommand(context.Background(), command())

	require.False(t, v.Safe)
	assert.Equal(t, RiskCritical, v.RiskLevel)
	assert.Equal(t, []string{"operator approval"}, v.Conditions)
}

func TestValidateCommand_FailsClosedOnUnparseableResponse(t *testing.T) {
	oracle := llm.NewMockClient("mock", func(string) string {
		return "not json at all"
	})
	g := New(oracle, eventbus.New())

	v := g.ValidateCommand(context.Background(), command())

	assert.False(t, v.Safe)
	assert.Equal(t, RiskHigh, v.RiskLevel)
	assert.Contains(t, v.Conditions, "manual review required")
}

func TestValidateCommand_FailsClosedWithNilOracle(t *testing.T) {
	g := New(nil, nil)

	v := g.ValidateCommand(context.Background(), command())

	assert.False(t, v.Safe)
}

func TestRecentValidations_CapsAtFiftyEntriesNewestLast(t *testing.T) {
	oracle := llm.NewMockClient("mock", func(string) string {
		return `{"safe": true, "risk_level": "LOW", "reasoning": "ok", "conditions": []}`
	})
	g := New(oracle, nil)

	for i := 0; i < logCapacity+10; i++ {
		g.ValidateCommand(context.Background(), command())
	}

	all := g.RecentValidations(0)
	assert.Len(t, all, logCapacity)
}

func TestNormalizeAction_ExtractsOperationFieldFromDictShapedAction(t *testing.T) {
	cmd := map[string]any{"action": map[string]any{"operation": "open", "line": 12}}
	assert.Equal(t, "open", normalizeAction(cmd))
}

func TestNormalizeAction_ScansDictFieldsForRecognizedVerbWhenOperationAbsent(t *testing.T) {
	cmd := map[string]any{"action": map[string]any{"description": "please ramp the generator up"}}
	assert.Equal(t, "ramp", normalizeAction(cmd))
}

func TestNormalizeAction_ScansOtherCommandFieldsWhenActionKeyMissingVerb(t *testing.T) {
	cmd := map[string]any{"command": "scale load down to 0.8"}
	assert.Equal(t, "scale", normalizeAction(cmd))
}

func TestNormalizeAction_ReturnsEmptyWhenNoVerbRecoverable(t *testing.T) {
	cmd := map[string]any{"action": map[string]any{"note": "do the thing"}}
	assert.Equal(t, "", normalizeAction(cmd))
}

func TestNormalizeTarget_ExtractsIDFieldFromDictShapedTarget(t *testing.T) {
	cmd := map[string]any{"target": map[string]any{"id": "line_12", "zone": "zone1"}}
	assert.Equal(t, "line_12", normalizeTarget(cmd))
}

func TestRecentValidations_ReturnsRequestedTailLength(t *testing.T) {
	oracle := llm.NewMockClient("mock", func(string) string {
		return `{"safe": true, "risk_level": "LOW", "reasoning": "ok", "conditions": []}`
	})
	g := New(oracle, nil)

	for i := 0; i < 5; i++ {
		g.ValidateCommand(context.Background(), command())
	}

	last := g.RecentValidations(2)
	assert.Len(t, last, 2)
}
