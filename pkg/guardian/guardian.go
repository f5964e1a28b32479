// Package guardian implements the safety gate every actuator-category
// command passes through before it reaches a grid device: a policy
// oracle call, a fail-closed default on any oracle or parse failure, and
// a bounded log of past verdicts. Grounded directly on
// original_source/src/strategic/guardian.py's validate_command, with the
// risk-classified-gate shape and queryable verdict log adapted from the
// teacher lineage's internal/escrow.ToolClassifier and EscrowGate.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/llm"
	"github.com/ocx/gridguardian/pkg/metrics"
)

// RiskLevel mirrors the oracle's own vocabulary; it is never validated
// against a closed set because the oracle is free-text and a future
// level name must not break parsing.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Verdict is the guardian's answer for one command.
type Verdict struct {
	Safe       bool      `json:"safe"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Reasoning  string    `json:"reasoning"`
	Conditions []string  `json:"conditions"`
}

// failClosed is returned whenever the oracle cannot be reached or its
// response cannot be parsed. A command that cannot be evaluated is never
// treated as safe.
func failClosed(reason string) Verdict {
	return Verdict{
		Safe:       false,
		RiskLevel:  RiskHigh,
		Reasoning:  reason,
		Conditions: []string{"manual review required"},
	}
}

// record is one retained command/verdict pair; RecentValidations exposes
// the verdicts for an operator console or audit query.
type record struct {
	Command map[string]any `json:"command"`
	Verdict Verdict        `json:"verdict"`
}

const logCapacity = 50

// Guardian gates actuator commands behind a policy-oracle call. It holds
// no grid state of its own; ValidateCommand is the only path a caller has
// into it.
type Guardian struct {
	oracle llm.Client
	bus    *eventbus.Bus

	mu  sync.Mutex
	log []record
}

// New constructs a Guardian. bus may be nil, in which case guardian_event
// publication is skipped (useful for isolated unit tests).
func New(oracle llm.Client, bus *eventbus.Bus) *Guardian {
	return &Guardian{oracle: oracle, bus: bus}
}

// ValidateCommand is the sole safety gate for actuator-category tool
// calls. command carries at minimum "action" and "target"; "parameters"
// and "context" are optional and folded into the oracle prompt verbatim.
func (g *Guardian) ValidateCommand(ctx context.Context, command map[string]any) Verdict {
	prompt := buildPrompt(command)

	verdict := g.ask(ctx, prompt)
	metrics.GuardianVerdictsTotal.WithLabelValues(string(verdict.RiskLevel)).Inc()
	g.record(command, verdict)
	g.publish(command, verdict)
	return verdict
}

// recognizedActionVerbs is the fixed whitelist an action field is scanned
// against when it arrives dict-shaped or under the wrong key, mirroring the
// action vocabulary declared across pkg/endpoint/actuator's actuator kinds.
var recognizedActionVerbs = []string{
	"emergency_stop", "set_output", "deactivate", "activate",
	"discharge", "restore", "charge", "ramp", "scale", "shed",
	"open", "close", "stop",
}

// normalizeAction recovers a usable action string even when an upstream
// LLM hands back a dict-shaped or mis-keyed action instead of a plain
// string: a dict's "operation" or "action" field is tried first, then
// every other string-valued field (in the dict, then in command itself) is
// scanned for a recognized verb.
func normalizeAction(command map[string]any) string {
	switch v := command["action"].(type) {
	case string:
		return v
	case map[string]any:
		if op, ok := v["operation"].(string); ok && op != "" {
			return op
		}
		if act, ok := v["action"].(string); ok && act != "" {
			return act
		}
		for _, val := range v {
			if s, ok := val.(string); ok {
				if verb := matchActionVerb(s); verb != "" {
					return verb
				}
			}
		}
	}
	for key, val := range command {
		if key == "action" {
			continue
		}
		if s, ok := val.(string); ok {
			if verb := matchActionVerb(s); verb != "" {
				return verb
			}
		}
	}
	return ""
}

// matchActionVerb returns the first recognized verb contained in s, or ""
// if none of the whitelist appears.
func matchActionVerb(s string) string {
	lower := strings.ToLower(s)
	for _, verb := range recognizedActionVerbs {
		if strings.Contains(lower, verb) {
			return verb
		}
	}
	return ""
}

// normalizeTarget recovers a usable target string even when it arrives as a
// dict instead of a plain string, trying the common id-bearing keys in
// turn.
func normalizeTarget(command map[string]any) string {
	switch v := command["target"].(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range []string{"target", "id", "server_id", "device_id"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func buildPrompt(command map[string]any) string {
	action := normalizeAction(command)
	target := normalizeTarget(command)

	params := "{}"
	if p, ok := command["parameters"]; ok {
		if b, err := json.Marshal(p); err == nil {
			params = string(b)
		}
	}
	context := "none"
	if c, ok := command["context"]; ok {
		if b, err := json.Marshal(c); err == nil {
			context = string(b)
		}
	}

	var b strings.Builder
	b.WriteString("You are a safety guardian for a power grid control system.\n")
	b.WriteString("Evaluate whether the following command is safe to execute.\n\n")
	fmt.Fprintf(&b, "Action: %s\n", action)
	fmt.Fprintf(&b, "Target: %s\n", target)
	fmt.Fprintf(&b, "Parameters: %s\n", params)
	fmt.Fprintf(&b, "Context: %s\n\n", context)
	b.WriteString("Respond with a JSON object with these exact keys:\n")
	b.WriteString(`{"safe": bool, "risk_level": "LOW"|"MEDIUM"|"HIGH"|"CRITICAL", "reasoning": string, "conditions": [string]}` + "\n")
	b.WriteString("Respond with only the JSON object, no other text.")
	return b.String()
}

// ask calls the oracle and parses its response, falling back to a
// fail-closed verdict on any error at either step.
func (g *Guardian) ask(ctx context.Context, prompt string) Verdict {
	if g.oracle == nil {
		return failClosed("no policy oracle configured")
	}

	raw, err := g.oracle.Complete(ctx, prompt, 0.0)
	if err != nil {
		return failClosed(fmt.Sprintf("policy oracle call failed: %v", err))
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return failClosed(fmt.Sprintf("could not parse policy oracle response: %v", err))
	}
	return verdict
}

// parseVerdict strips a markdown code fence if present, then decodes the
// oracle's JSON. Oracles routinely wrap JSON in ```json ... ``` fences
// despite being told not to; stripping them here is cheaper than fighting
// every model's instruction-following on every call.
func parseVerdict(raw string) (Verdict, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var v Verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return Verdict{}, err
	}
	if v.RiskLevel == "" {
		v.RiskLevel = RiskHigh
	}
	if v.Conditions == nil {
		v.Conditions = []string{}
	}
	return v, nil
}

// record appends the command/verdict pair to the bounded log, dropping
// the oldest entry once logCapacity is exceeded.
func (g *Guardian) record(command map[string]any, verdict Verdict) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log = append(g.log, record{Command: command, Verdict: verdict})
	if len(g.log) > logCapacity {
		g.log = g.log[len(g.log)-logCapacity:]
	}
}

// publish emits a guardian_event so any websocket-connected operator
// console sees the verdict the moment it is made.
func (g *Guardian) publish(command map[string]any, verdict Verdict) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(eventbus.ChannelGuardianEvent, map[string]any{
		"command": command,
		"safe":    verdict.Safe,
		"risk_level": verdict.RiskLevel,
		"reasoning":  verdict.Reasoning,
		"conditions": verdict.Conditions,
	})
}

// RecentValidations returns the verdicts of the last n validations, newest
// last; the commands they judged are not included. n<=0 or n greater than
// the log size returns the whole log.
func (g *Guardian) RecentValidations(n int) []Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := 0
	if n > 0 && n < len(g.log) {
		start = len(g.log) - n
	}
	out := make([]Verdict, 0, len(g.log)-start)
	for _, r := range g.log[start:] {
		out = append(out, r.Verdict)
	}
	return out
}
