package domain

import (
	"github.com/ocx/gridguardian/pkg/audit"
	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
)

// Robotics is a placeholder adapter: the control-plane wiring (registry,
// catalog, guardian, agent, monitor) is domain-agnostic, but no robotics
// simulation exists in this repository, so every factory returns empty.
type Robotics struct{}

func NewRobotics() *Robotics { return &Robotics{} }

func (Robotics) DomainName() string                                      { return "robotics" }
func (Robotics) CreateSensors(*gridsim.Simulation) []endpoint.Endpoint    { return nil }
func (Robotics) CreateActuators(*gridsim.Simulation) []endpoint.Endpoint  { return nil }
func (Robotics) CreateCoordinators(*gridsim.Simulation, *eventbus.Bus, *audit.Log, int) []endpoint.Endpoint {
	return nil
}
func (Robotics) SensorTypes() []string   { return nil }
func (Robotics) ActuatorTypes() []string { return nil }
func (Robotics) Constraints() map[string]any { return map[string]any{} }
func (Robotics) SafetyRules() []string       { return nil }

// Satellite is a placeholder adapter, same shape as Robotics.
type Satellite struct{}

func NewSatellite() *Satellite { return &Satellite{} }

func (Satellite) DomainName() string                                     { return "satellite" }
func (Satellite) CreateSensors(*gridsim.Simulation) []endpoint.Endpoint   { return nil }
func (Satellite) CreateActuators(*gridsim.Simulation) []endpoint.Endpoint { return nil }
func (Satellite) CreateCoordinators(*gridsim.Simulation, *eventbus.Bus, *audit.Log, int) []endpoint.Endpoint {
	return nil
}
func (Satellite) SensorTypes() []string      { return nil }
func (Satellite) ActuatorTypes() []string    { return nil }
func (Satellite) Constraints() map[string]any { return map[string]any{} }
func (Satellite) SafetyRules() []string       { return nil }
