// Package toolcatalog flattens the registry into the external,
// LLM-facing tool namespace the strategic agent calls through. Adapted
// from the teacher's internal/catalog.ToolCatalog (register/get/list/count
// behind a single RWMutex) and generalized from a governance-policy
// catalog into a dispatch catalog: external name derivation, a filtered
// actuator-only view, and live-endpoint dispatch.
package toolcatalog

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/metrics"
	"github.com/ocx/gridguardian/pkg/registry"
)

// Entry is one dispatchable tool in the external namespace.
type Entry struct {
	ExternalName string               `json:"external_name"`
	ServerID     string               `json:"server_id"`
	OriginalName string               `json:"original_name"`
	Description  string               `json:"description"`
	InputSchema  any                  `json:"input_schema,omitempty"`
	SafetyClass  registry.SafetyClass `json:"safety_class"`
	Tier         registry.Tier        `json:"tier"`
}

// IsActuator reports whether e belongs to an actuator-category endpoint:
// a declared safety class beyond read-only, or "actuate" named in the
// description for tools that predate a safety-class declaration.
func (e Entry) IsActuator() bool {
	if e.SafetyClass != "" && e.SafetyClass != registry.SafetyReadOnly {
		return true
	}
	return strings.Contains(strings.ToLower(e.Description), "actuate")
}

// actuatorToolCap is the last-resort ceiling applied when the
// actuator-category filter would otherwise yield nothing: the strategic
// agent still needs a bounded, non-empty tool list to reason about during
// an escalation.
const actuatorToolCap = 10

var nonIdentifierChars = regexp.MustCompile(`[^a-z0-9_]+`)

// Catalog holds the flattened external-name tool namespace plus the
// process-local map of live endpoint instances dispatch actually reaches.
type Catalog struct {
	mu            sync.RWMutex
	entries       map[string]Entry
	liveEndpoints map[string]endpoint.Endpoint
}

// New constructs an empty Catalog.
func New() *Catalog {
	return &Catalog{
		entries:       make(map[string]Entry),
		liveEndpoints: make(map[string]endpoint.Endpoint),
	}
}

// ExternalName derives the flat, LLM-facing tool identifier from a
// server's registered name and one of its tool names: "<server>_<tool>"
// lower-cased, parentheses removed, and spaces and any other
// non-identifier characters replaced by underscores.
func ExternalName(serverName, toolName string) string {
	raw := strings.ToLower(serverName + "_" + toolName)
	raw = strings.NewReplacer("(", "", ")", "", " ", "_").Replace(raw)
	return nonIdentifierChars.ReplaceAllString(raw, "_")
}

// Build replaces the catalog's tool namespace from a freshly flattened
// registry listing, as done once at agent bootstrap and again on each
// discover_tools call. Tools of stale or offline endpoints are left out.
func (c *Catalog) Build(tools []registry.ToolWithServer) {
	entries := make(map[string]Entry, len(tools))
	for _, t := range tools {
		if t.Status == registry.StatusStale || t.Status == registry.StatusOffline {
			continue
		}
		name := ExternalName(t.Server, t.Tool.Name)
		entries[name] = Entry{
			ExternalName: name,
			ServerID:     t.ServerID,
			OriginalName: t.Tool.Name,
			Description:  t.Tool.Description,
			InputSchema:  t.Tool.InputSchema,
			SafetyClass:  t.Tool.SafetyClass,
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// RegisterLiveEndpoint makes an in-process endpoint instance dispatchable
// under its server id. Called once per endpoint at boot; C4's registry
// only tracks metadata, this map is what Invoke actually calls through.
func (c *Catalog) RegisterLiveEndpoint(serverID string, ep endpoint.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveEndpoints[serverID] = ep
}

// UnregisterLiveEndpoint removes a dead or decommissioned endpoint from
// the dispatch map without touching the metadata catalog.
func (c *Catalog) UnregisterLiveEndpoint(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.liveEndpoints, serverID)
}

// Get returns one entry by external name.
func (c *Catalog) Get(externalName string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[externalName]
	return e, ok
}

// List returns every entry in the catalog.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Count returns the number of tools currently in the catalog.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ActuatorTools returns the bounded, control-only view presented to the
// strategic agent during escalations: tools whose declared safety class is
// above read_only, or with "actuate" in their description. The endpoint's
// kind is not consulted, so an actuator's read-only tools are left out and
// a zone coordinator's non-read-only tools are included. If that filter yields
// nothing, the first ten catalog entries (in no particular order) are
// returned instead so the agent is never handed an empty tool list.
func (c *Catalog) ActuatorTools() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for _, e := range c.entries {
		if e.IsActuator() {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}

	fallback := make([]Entry, 0, actuatorToolCap)
	for _, e := range c.entries {
		if len(fallback) >= actuatorToolCap {
			break
		}
		fallback = append(fallback, e)
	}
	return fallback
}

// Invoke resolves externalName to (server id, original tool name), looks
// up the live endpoint, and calls through. It never returns a Go error: a
// failure is reported as a structured {"error": ...} payload so the
// calling agent loop can reason about it instead of the call panicking or
// unwinding.
func (c *Catalog) Invoke(ctx context.Context, externalName string, params map[string]any) any {
	c.mu.RLock()
	entry, ok := c.entries[externalName]
	var ep endpoint.Endpoint
	if ok {
		ep, ok = c.liveEndpoints[entry.ServerID]
	}
	c.mu.RUnlock()

	if _, found := c.Get(externalName); !found {
		metrics.ToolInvocationsTotal.WithLabelValues("error").Inc()
		return map[string]any{"error": "unknown_tool", "tool": externalName}
	}
	if !ok || ep == nil {
		metrics.ToolInvocationsTotal.WithLabelValues("error").Inc()
		return map[string]any{"error": "no_live_server", "tool": externalName, "server_id": entry.ServerID}
	}

	result, err := ep.Invoke(ctx, entry.OriginalName, params)
	if err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues("error").Inc()
		return map[string]any{"error": err.Error(), "tool": externalName}
	}
	metrics.ToolInvocationsTotal.WithLabelValues("ok").Inc()
	return result
}
