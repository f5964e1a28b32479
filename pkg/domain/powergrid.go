package domain

import (
	"github.com/ocx/gridguardian/pkg/audit"
	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/endpoint/actuator"
	"github.com/ocx/gridguardian/pkg/endpoint/sensor"
	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
	"github.com/ocx/gridguardian/pkg/zone"
)

// PowerGrid is the concrete IEEE 30-bus adapter: system-wide temperature
// and frequency sensors, voltage, current and power-quality sensors per
// zone, one actuator endpoint per kind per zone, plus one zone
// coordination engine per zone, wired against a shared gridsim.Simulation.
type PowerGrid struct{}

// NewPowerGrid constructs the power-grid domain adapter.
func NewPowerGrid() *PowerGrid { return &PowerGrid{} }

func (PowerGrid) DomainName() string { return "powergrid" }

func (PowerGrid) CreateSensors(sim *gridsim.Simulation) []endpoint.Endpoint {
	var out []endpoint.Endpoint
	out = append(out, sensor.NewTemperature(sim), sensor.NewFrequency(sim))
	for _, z := range gridsim.ZoneIDs() {
		out = append(out,
			sensor.NewVoltage(sim, z),
			sensor.NewCurrent(sim, z),
			sensor.NewPowerQuality(sim, z),
		)
	}
	return out
}

func (PowerGrid) CreateActuators(sim *gridsim.Simulation) []endpoint.Endpoint {
	var out []endpoint.Endpoint
	for _, z := range gridsim.ZoneIDs() {
		out = append(out,
			actuator.NewCircuitBreaker(sim, z),
			actuator.NewGenerator(sim, z),
			actuator.NewLoadController(sim, z),
			actuator.NewVoltageRegulator(sim, z),
			actuator.NewEnergyStorage(sim, z),
		)
	}
	return out
}

func (PowerGrid) CreateCoordinators(sim *gridsim.Simulation, bus *eventbus.Bus, log *audit.Log, deadband int) []endpoint.Endpoint {
	var out []endpoint.Endpoint
	for _, z := range gridsim.ZoneIDs() {
		out = append(out, zone.New(z, sim, bus, log, deadband))
	}
	return out
}

func (PowerGrid) SensorTypes() []string {
	return []string{"voltage", "current", "temperature", "frequency", "power_quality"}
}

func (PowerGrid) ActuatorTypes() []string {
	return []string{"circuit_breaker", "generator", "load_controller", "voltage_regulator", "energy_storage"}
}

func (PowerGrid) Constraints() map[string]any {
	return map[string]any{
		"under_voltage_pu":     gridsim.UnderVoltagePU,
		"over_voltage_pu":      gridsim.OverVoltagePU,
		"max_line_loading_pct": gridsim.MaxLineLoadingPct,
		"nominal_freq_hz":      gridsim.NominalFreqHz,
	}
}

func (PowerGrid) SafetyRules() []string {
	return []string{
		"relay trip on voltage or thermal limit breach",
		"escalate to strategic agent after sustained deadband violations",
		"emergency islanding opens tie-lines when zone integrity is at risk",
	}
}
