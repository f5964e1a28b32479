// Package endpoint defines the uniform capability model shared by every
// sensor, actuator, and coordinator: a stable server id, a registry
// registration, and one invocation entry point used by the tool
// dispatcher. It replaces the "hasattr(server, 'zone_id')" family of
// discrimination with a polymorphic interface whose variants are Sensor,
// Actuator, and Coordinator.
package endpoint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ocx/gridguardian/pkg/registry"
)

// Endpoint is the shared contract for every in-process device or
// coordinator the control plane can invoke.
type Endpoint interface {
	ServerID() string
	Registration() registry.Registration
	Invoke(ctx context.Context, toolName string, params map[string]any) (any, error)
}

// NewServerID builds a stable server id of the form "<kind>_<zone>_<suffix>",
// matching the "kind+zone+random suffix" contract shared by every endpoint
// family. Zone may be empty for zone-less endpoints (e.g. the frequency
// sensor).
func NewServerID(kind, zone string) string {
	suffix := randomSuffix()
	if zone == "" {
		return fmt.Sprintf("%s_%s", kind, suffix)
	}
	return fmt.Sprintf("%s_%s_%s", kind, zone, suffix)
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}

// ErrUnknownTool is returned by Invoke when toolName is not one of the
// endpoint's declared operations.
type ErrUnknownTool struct {
	ServerID string
	Tool     string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("endpoint %s: unknown tool %q", e.ServerID, e.Tool)
}
