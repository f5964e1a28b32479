// Package agent implements the strategic reasoning layer: it discovers
// tools from the registry, reasons over a natural-language directive,
// and drives a bounded tool-use loop against the live endpoint catalog.
// Grounded on original_source/.../strategic/agent.py for the discovery
// and tool-loop shape, and on the teacher's internal/escrow.JuryGRPCClient
// for the Go idiom of a policy-backed remote client with a deterministic,
// testable fallback path when the real oracle is unreachable or returns
// something the loop cannot parse.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/guardian"
	"github.com/ocx/gridguardian/pkg/llm"
	"github.com/ocx/gridguardian/pkg/memory"
	"github.com/ocx/gridguardian/pkg/registry"
	"github.com/ocx/gridguardian/pkg/toolcatalog"
)

// maxToolRounds bounds the tool-use loop: a misbehaving oracle that keeps
// calling tools instead of answering cannot spin the agent forever.
const maxToolRounds = 10

// Decision is one completed reasoning pass, folded into memory and kept
// in the agent's own short audit list.
type Decision struct {
	DecisionID string    `json:"decision_id"`
	Trigger    string    `json:"trigger"`
	Reasoning  string    `json:"reasoning"`
	Actions    []string  `json:"actions_taken"`
	Timestamp  time.Time `json:"timestamp"`
}

// Registry is the subset of *registry.Registry the agent needs for
// discovery, narrowed to an interface so tests can supply a stub.
type Registry interface {
	FlattenTools() []registry.ToolWithServer
}

// Guardian is the subset of *guardian.Guardian the agent gates
// actuator-category tool calls through, narrowed to an interface so tests
// can supply a stub without a policy oracle.
type Guardian interface {
	ValidateCommand(ctx context.Context, command map[string]any) guardian.Verdict
}

// Agent is the strategic reasoning component: one per running system.
type Agent struct {
	oracle   llm.Client
	memory   *memory.Store
	registry Registry
	catalog  *toolcatalog.Catalog
	bus      *eventbus.Bus
	guardian Guardian

	mu       sync.Mutex
	auditLog []Decision
}

// New constructs an Agent. bus may be nil to suppress agent_log publishing
// in isolated tests.
func New(oracle llm.Client, mem *memory.Store, reg Registry, catalog *toolcatalog.Catalog, bus *eventbus.Bus) *Agent {
	return &Agent{oracle: oracle, memory: mem, registry: reg, catalog: catalog, bus: bus}
}

// SetGuardian wires the safety guardian actuator-category tool calls must
// pass before dispatch. Unset, actuator calls are invoked directly — used
// by tests that exercise the tool loop without a policy oracle for the
// guardian itself.
func (a *Agent) SetGuardian(g Guardian) {
	a.guardian = g
}

// DiscoverTools rebuilds the C6 catalog from the current registry
// contents and returns the number of tools found.
func (a *Agent) DiscoverTools() int {
	tools := a.registry.FlattenTools()
	a.catalog.Build(tools)
	slog.Info("agent: discovered tools", "count", len(tools))
	return len(tools)
}

// toolStep is the single-shot protocol the oracle must answer in: either
// it names one tool call to make, or it gives a final answer. Unlike an
// OpenAI-style function-calling API, llm.Client only completes text, so
// the loop carries this contract in the prompt itself each round.
type toolStep struct {
	ToolCall *struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"tool_call,omitempty"`
	Final string `json:"final,omitempty"`
}

// Query processes a natural-language directive, optionally restricting
// the oracle to actuator-category tools during an escalation to keep the
// prompt small. It returns the oracle's final summary text.
func (a *Agent) Query(ctx context.Context, userMessage string, escalation bool) string {
	contextBlock := a.buildContextBlock()
	fullMessage := userMessage
	if contextBlock != "" {
		fullMessage = contextBlock + "\n\n" + userMessage
	}

	a.logEvent("analyzing", "Processing directive: "+truncate(userMessage, 200), nil)

	tools := a.catalog.List()
	if escalation {
		tools = a.catalog.ActuatorTools()
	}
	slog.Info("agent: querying oracle", "tool_count", len(tools), "escalation", escalation)

	finalText, actionsTaken := a.toolLoop(ctx, fullMessage, tools)

	decision := Decision{
		DecisionID: uuid.NewString()[:12],
		Trigger:    truncate(userMessage, 200),
		Reasoning:  truncate(finalText, 500),
		Actions:    actionsTaken,
		Timestamp:  time.Now(),
	}
	a.recordDecision(decision)

	summary := finalText
	if summary == "" {
		summary = "(tool calls executed, no summary text)"
	}
	a.logEvent("decision", summary, nil)

	return finalText
}

// toolLoop drives up to maxToolRounds of oracle-call/tool-call exchanges.
// A tool invocation never raises: the catalog already reports failures as
// structured payloads, and a response the oracle refuses to format as
// requested JSON degrades to treating the raw text as the final answer,
// the same fail-open-to-plain-text posture original_source falls back to
// when a provider ignores its tool-call instructions.
func (a *Agent) toolLoop(ctx context.Context, userMessage string, tools []toolcatalog.Entry) (string, []string) {
	var transcript strings.Builder
	transcript.WriteString(userMessage)

	var actionsTaken []string

	for round := 0; round < maxToolRounds; round++ {
		if a.oracle == nil {
			return "no policy oracle configured", actionsTaken
		}

		prompt := buildLoopPrompt(transcript.String(), tools)
		raw, err := a.oracle.Complete(ctx, prompt, 0.2)
		if err != nil {
			slog.Error("agent: oracle call failed", "round", round, "error", err)
			return fmt.Sprintf("oracle call failed: %v", err), actionsTaken
		}

		step, ok := parseToolStep(raw)
		if !ok || step.ToolCall == nil {
			if ok {
				return step.Final, actionsTaken
			}
			return raw, actionsTaken
		}

		name := step.ToolCall.Name
		args := step.ToolCall.Arguments
		a.logEvent("tool_call", "Calling component: "+name, args)

		if verdict, blocked := a.guardVerdict(ctx, name, args); blocked {
			encoded, _ := json.Marshal(verdict)
			fmt.Fprintf(&transcript, "\n\nTool %s blocked by safety guardian: %s", name, string(encoded))
			continue
		}

		result := a.catalog.Invoke(ctx, name, args)
		actionsTaken = append(actionsTaken, name)

		encoded, _ := json.Marshal(result)
		fmt.Fprintf(&transcript, "\n\nTool %s returned: %s", name, truncate(string(encoded), 500))
	}

	return "tool-use loop exceeded its round budget without a final answer", actionsTaken
}

// guardVerdict validates an actuator-category tool call against the
// safety guardian before dispatch. Read-only tools and calls made with no
// guardian configured are never gated.
func (a *Agent) guardVerdict(ctx context.Context, name string, args map[string]any) (guardian.Verdict, bool) {
	if a.guardian == nil {
		return guardian.Verdict{}, false
	}
	entry, ok := a.catalog.Get(name)
	if !ok || !entry.IsActuator() {
		return guardian.Verdict{}, false
	}

	verdict := a.guardian.ValidateCommand(ctx, map[string]any{
		"action":     name,
		"target":     entry.ServerID,
		"parameters": args,
	})
	if verdict.Safe {
		return guardian.Verdict{}, false
	}
	return verdict, true
}

func parseToolStep(raw string) (toolStep, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var step toolStep
	if err := json.Unmarshal([]byte(cleaned), &step); err != nil {
		return toolStep{}, false
	}
	return step, true
}

func buildLoopPrompt(conversation string, tools []toolcatalog.Entry) string {
	var b strings.Builder
	b.WriteString("You are the strategic control agent for a power grid.\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "  - %s: %s\n", t.ExternalName, t.Description)
	}
	b.WriteString("\nRespond with exactly one JSON object:\n")
	b.WriteString(`  {"tool_call": {"name": "...", "arguments": {...}}}` + "\n")
	b.WriteString("to call a tool, or\n")
	b.WriteString(`  {"final": "..."}` + "\n")
	b.WriteString("once you have enough information to answer. No other text.\n\n")
	b.WriteString(conversation)
	return b.String()
}

func (a *Agent) buildContextBlock() string {
	if a.memory == nil {
		return ""
	}
	summary := a.memory.GetContextSummary()
	recent := a.memory.GetRecentDecisions(3)
	if len(recent) == 0 {
		return summary
	}
	encoded, _ := json.MarshalIndent(recent, "", "  ")
	return summary + "\n\nRecent decisions:\n" + string(encoded)
}

func (a *Agent) recordDecision(d Decision) {
	a.mu.Lock()
	a.auditLog = append(a.auditLog, d)
	a.mu.Unlock()

	if a.memory != nil {
		a.memory.StoreDecision(memory.Decision{
			DecisionID: d.DecisionID,
			Trigger:    d.Trigger,
			Reasoning:  d.Reasoning,
			Actions:    d.Actions,
			Timestamp:  d.Timestamp,
		})
	}
}

// AuditLog returns every decision made so far, oldest first.
func (a *Agent) AuditLog() []Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Decision, len(a.auditLog))
	copy(out, a.auditLog)
	return out
}

func (a *Agent) logEvent(level, message string, data any) {
	if a.bus == nil {
		return
	}
	payload := map[string]any{"level": level, "message": message}
	if data != nil {
		payload["data"] = data
	}
	a.bus.Publish(eventbus.ChannelAgentLog, payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
