package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/guardian"
	"github.com/ocx/gridguardian/pkg/llm"
	"github.com/ocx/gridguardian/pkg/memory"
	"github.com/ocx/gridguardian/pkg/registry"
	"github.com/ocx/gridguardian/pkg/toolcatalog"
)

type stubRegistry struct {
	tools []registry.ToolWithServer
}

func (s *stubRegistry) FlattenTools() []registry.ToolWithServer { return s.tools }

type stubEndpoint struct{}

func (stubEndpoint) ServerID() string                    { return "s1" }
func (stubEndpoint) Registration() registry.Registration { return registry.Registration{ServerID: "s1"} }
func (stubEndpoint) Invoke(_ context.Context, tool string, _ map[string]any) (any, error) {
	return map[string]any{"tool": tool, "ok": true}, nil
}

func newTestAgent(t *testing.T, respond func(prompt string) string) *Agent {
	t.Helper()
	reg := &stubRegistry{tools: []registry.ToolWithServer{
		{ServerID: "s1", Server: "breaker", Tool: registry.ToolDescriptor{Name: "control", Description: "actuate a circuit breaker"}},
	}}
	catalog := toolcatalog.New()
	mem, err := memory.New(nil)
	require.NoError(t, err)

	oracle := llm.NewMockClient("mock", respond)
	a := New(oracle, mem, reg, catalog, nil)
	a.DiscoverTools()
	catalog.RegisterLiveEndpoint("s1", stubEndpoint{})
	return a
}

func TestQuery_ReturnsFinalAnswerWithoutToolCalls(t *testing.T) {
	a := newTestAgent(t, func(string) string {
		return `{"final": "grid is nominal"}`
	})

	result := a.Query(context.Background(), "what is the grid status", false)
	assert.Equal(t, "grid is nominal", result)
}

func TestQuery_InvokesToolThenReturnsFinalAnswer(t *testing.T) {
	calls := 0
	a := newTestAgent(t, func(prompt string) string {
		calls++
		if calls == 1 {
			return `{"tool_call": {"name": "breaker_control", "arguments": {"action": "open"}}}`
		}
		return `{"final": "breaker opened"}`
	})

	result := a.Query(context.Background(), "open the breaker on line 12", false)
	assert.Equal(t, "breaker opened", result)
	assert.Equal(t, 2, calls)

	log := a.AuditLog()
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Actions, "breaker_control")
}

func TestQuery_StopsAtRoundBudgetWhenOracleNeverFinalizes(t *testing.T) {
	a := newTestAgent(t, func(string) string {
		return `{"tool_call": {"name": "breaker_control", "arguments": {}}}`
	})

	result := a.Query(context.Background(), "keep going forever", false)
	assert.Contains(t, result, "round budget")
}

func TestQuery_FallsBackToRawTextWhenOracleIgnoresProtocol(t *testing.T) {
	a := newTestAgent(t, func(string) string {
		return "the grid looks fine to me"
	})

	result := a.Query(context.Background(), "status check", false)
	assert.Equal(t, "the grid looks fine to me", result)
}

func TestQuery_UsesActuatorOnlyToolsDuringEscalation(t *testing.T) {
	var seenPrompt string
	a := newTestAgent(t, func(prompt string) string {
		seenPrompt = prompt
		return `{"final": "handled"}`
	})

	a.Query(context.Background(), "emergency", true)
	assert.Contains(t, seenPrompt, "breaker_control")
}

type stubGuardian struct {
	verdict guardian.Verdict
	calls   int
}

func (g *stubGuardian) ValidateCommand(_ context.Context, _ map[string]any) guardian.Verdict {
	g.calls++
	return g.verdict
}

func TestQuery_GuardianBlocksUnsafeActuatorCall(t *testing.T) {
	calls := 0
	a := newTestAgent(t, func(prompt string) string {
		calls++
		if calls == 1 {
			return `{"tool_call": {"name": "breaker_control", "arguments": {"action": "open"}}}`
		}
		return `{"final": "stood down after guardian block"}`
	})
	g := &stubGuardian{verdict: guardian.Verdict{Safe: false, RiskLevel: guardian.RiskHigh, Reasoning: "too risky"}}
	a.SetGuardian(g)

	result := a.Query(context.Background(), "open the breaker", false)
	assert.Equal(t, "stood down after guardian block", result)
	assert.Equal(t, 1, g.calls)

	log := a.AuditLog()
	require.Len(t, log, 1)
	assert.Empty(t, log[0].Actions)
}

func TestQuery_GuardianApprovesSafeActuatorCall(t *testing.T) {
	calls := 0
	a := newTestAgent(t, func(prompt string) string {
		calls++
		if calls == 1 {
			return `{"tool_call": {"name": "breaker_control", "arguments": {"action": "open"}}}`
		}
		return `{"final": "breaker opened"}`
	})
	g := &stubGuardian{verdict: guardian.Verdict{Safe: true, RiskLevel: guardian.RiskLow}}
	a.SetGuardian(g)

	result := a.Query(context.Background(), "open the breaker", false)
	assert.Equal(t, "breaker opened", result)
	assert.Equal(t, 1, g.calls)

	log := a.AuditLog()
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Actions, "breaker_control")
}

var _ endpoint.Endpoint = stubEndpoint{}
