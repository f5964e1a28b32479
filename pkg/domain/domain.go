// Package domain defines the adapter contract the external service shell
// uses to build a concrete domain's sensors, actuators, and coordinators
// without hardcoding power-grid specifics into the wiring code. One
// concrete adapter (powergrid) backs the running system; robotics and
// satellite are present as stub adapters returning empty factories, so a
// future domain can be dropped in without touching cmd/grid-guardian.
package domain

import (
	"github.com/ocx/gridguardian/pkg/audit"
	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
)

// Adapter is the domain factory contract. CreateSensors/CreateActuators/
// CreateCoordinators are called once at boot against the shared
// simulation, event bus, and audit log.
type Adapter interface {
	DomainName() string
	CreateSensors(sim *gridsim.Simulation) []endpoint.Endpoint
	CreateActuators(sim *gridsim.Simulation) []endpoint.Endpoint
	CreateCoordinators(sim *gridsim.Simulation, bus *eventbus.Bus, log *audit.Log, deadband int) []endpoint.Endpoint
	SensorTypes() []string
	ActuatorTypes() []string
	Constraints() map[string]any
	SafetyRules() []string
}
