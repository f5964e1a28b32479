// Package actuator implements the Actuator endpoint family: circuit
// breaker, generator, load controller, voltage regulator, and energy
// storage. Every kind shares one Actuator implementation parameterized by
// a fixed action vocabulary, an alias table, and a per-id executor that
// drives the underlying simulation.
package actuator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/gridsim"
	"github.com/ocx/gridguardian/pkg/registry"
)

// Kind enumerates the required actuator kinds.
type Kind string

const (
	KindCircuitBreaker   Kind = "circuit_breaker"
	KindGenerator        Kind = "generator"
	KindLoadController   Kind = "load_controller"
	KindVoltageRegulator Kind = "voltage_regulator"
	KindEnergyStorage    Kind = "energy_storage"
)

// Actuator is the shared implementation for every actuator kind.
type Actuator struct {
	serverID string
	kind     Kind
	zone     string
	sim      *gridsim.Simulation

	validActions map[string]bool
	aliases      map[string]string

	devices func() []string
	execute func(id, action string, params map[string]any) error
	status  func(id string) (map[string]any, error)
}

var _ endpoint.Endpoint = (*Actuator)(nil)

func (a *Actuator) ServerID() string { return a.serverID }

// Registration builds this actuator's registry record. control is
// advertised medium_risk, validate_action, get_status and list_devices
// read_only, and emergency_shutdown emergency.
func (a *Actuator) Registration() registry.Registration {
	desc := func(name, description string, class registry.SafetyClass) registry.ToolDescriptor {
		return registry.ToolDescriptor{Name: name, Description: description, SafetyClass: class}
	}
	return registry.Registration{
		ServerID:  a.serverID,
		Name:      fmt.Sprintf("%s_actuator", a.kind),
		Tier:      registry.TierPhysical,
		Domain:    "power_grid",
		Zone:      a.zone,
		Transport: "in_process",
		Tools: []registry.ToolDescriptor{
			desc("control", fmt.Sprintf("Apply an action to a %s device", a.kind), registry.SafetyMediumRisk),
			desc("validate_action", "Dry-run an action without applying it", registry.SafetyReadOnly),
			desc("get_status", "Return one device's current status", registry.SafetyReadOnly),
			desc("list_devices", "List every device id this endpoint controls", registry.SafetyReadOnly),
			desc("emergency_shutdown", "Immediately stop every device in this endpoint's zone", registry.SafetyEmergency),
		},
	}
}

// Invoke dispatches one of the five actuator tools by name.
func (a *Actuator) Invoke(_ context.Context, toolName string, params map[string]any) (any, error) {
	switch toolName {
	case "control":
		id, _ := params["id"].(string)
		action, _ := params["action"].(string)
		validate := true
		if v, ok := params["validate"].(bool); ok {
			validate = v
		}
		return a.control(id, action, params, validate)
	case "validate_action":
		id, _ := params["id"].(string)
		action, _ := params["action"].(string)
		return a.dryRun(id, action, params)
	case "get_status":
		id, _ := params["id"].(string)
		return a.status(id)
	case "list_devices":
		return a.devices(), nil
	case "emergency_shutdown":
		return a.emergencyShutdown(), nil
	default:
		return nil, &endpoint.ErrUnknownTool{ServerID: a.serverID, Tool: toolName}
	}
}

func (a *Actuator) normalize(action string) string {
	if canon, ok := a.aliases[action]; ok {
		return canon
	}
	return action
}

func (a *Actuator) control(id, action string, params map[string]any, validate bool) (map[string]any, error) {
	canon := a.normalize(action)
	if !a.validActions[canon] {
		return nil, fmt.Errorf("actuator: %q is not a valid action for %s (got %q)", canon, a.kind, action)
	}

	if validate {
		result := a.sim.ValidateAction(func(_ *gridsim.Simulation) error {
			return a.execute(id, canon, params)
		})
		if !result.Safe {
			return map[string]any{
				"applied":        false,
				"reason":         "rejected_by_safety_check",
				"new_violations": result.NewViolations,
				"worsened":       result.Worsened,
			}, nil
		}
	}

	previous, _ := a.status(id)

	if err := a.execute(id, canon, params); err != nil {
		return nil, err
	}

	current, _ := a.status(id)
	return map[string]any{
		"applied":        true,
		"id":             id,
		"action":         canon,
		"previous_state": previous,
		"new_state":      current,
	}, nil
}

func (a *Actuator) dryRun(id, action string, params map[string]any) (map[string]any, error) {
	canon := a.normalize(action)
	if !a.validActions[canon] {
		return nil, fmt.Errorf("actuator: %q is not a valid action for %s (got %q)", canon, a.kind, action)
	}
	result := a.sim.ValidateAction(func(_ *gridsim.Simulation) error {
		return a.execute(id, canon, params)
	})
	return map[string]any{
		"safe":           result.Safe,
		"new_violations": result.NewViolations,
		"worsened":       result.Worsened,
	}, nil
}

func (a *Actuator) emergencyShutdown() map[string]any {
	ids := a.devices()
	results := make(map[string]any, len(ids))
	for _, id := range ids {
		err := a.execute(id, "emergency_stop", nil)
		if err != nil {
			results[id] = map[string]any{"applied": false, "error": err.Error()}
			continue
		}
		results[id] = map[string]any{"applied": true}
	}
	return map[string]any{"zone": a.zone, "results": results}
}

func newActuator(kind Kind, zone string, sim *gridsim.Simulation, validActions []string, aliases map[string]string, devices func() []string, execute func(string, string, map[string]any) error, status func(string) (map[string]any, error)) *Actuator {
	set := make(map[string]bool, len(validActions))
	for _, v := range validActions {
		set[v] = true
	}
	return &Actuator{
		serverID:     endpoint.NewServerID(fmt.Sprintf("actuator_%s", kind), zone),
		kind:         kind,
		zone:         zone,
		sim:          sim,
		validActions: set,
		aliases:      aliases,
		devices:      devices,
		execute:      execute,
		status:       status,
	}
}

// NewCircuitBreaker builds a per-zone actuator over every line with both
// endpoints in zone; id is the line's gridsim component id ("line_<n>").
func NewCircuitBreaker(sim *gridsim.Simulation, zone string) *Actuator {
	devices := func() []string {
		lines := sim.GetZoneLines(zone)
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = gridsim.LineComponentID(l)
		}
		return out
	}
	execute := func(id, action string, _ map[string]any) error {
		line, err := parseID("line_", id)
		if err != nil {
			return err
		}
		switch action {
		case "open", "emergency_stop":
			return sim.SetLineStatus(line, false)
		case "close":
			return sim.SetLineStatus(line, true)
		default:
			return fmt.Errorf("actuator: circuit_breaker cannot execute %q", action)
		}
	}
	status := func(id string) (map[string]any, error) {
		line, err := parseID("line_", id)
		if err != nil {
			return nil, err
		}
		st := sim.State()
		for _, l := range st.Lines {
			if l.ID == line {
				return map[string]any{"id": id, "in_service": l.InService, "loading_percent": l.LoadingPercent}, nil
			}
		}
		return nil, fmt.Errorf("actuator: unknown line %d", line)
	}
	return newActuator(KindCircuitBreaker, zone, sim, []string{"open", "close", "emergency_stop"}, nil, devices, execute, status)
}

// NewGenerator builds a per-zone actuator over every generator sited on a
// bus in zone; id is "gen_<n>".
func NewGenerator(sim *gridsim.Simulation, zone string) *Actuator {
	inZone := func() []gridsim.Generator {
		st := sim.State()
		busZone := make(map[int]string, len(st.Buses))
		for _, b := range st.Buses {
			busZone[b.ID] = b.Zone
		}
		var out []gridsim.Generator
		for _, g := range st.Generators {
			if busZone[g.Bus] == zone {
				out = append(out, g)
			}
		}
		return out
	}
	devices := func() []string {
		var out []string
		for _, g := range inZone() {
			out = append(out, fmt.Sprintf("gen_%d", g.ID))
		}
		return out
	}
	execute := func(id, action string, params map[string]any) error {
		gen, err := parseID("gen_", id)
		if err != nil {
			return err
		}
		switch action {
		case "emergency_stop":
			return sim.SetGeneratorOutput(gen, 0)
		case "set_output":
			value, _ := params["value"].(float64)
			return sim.SetGeneratorOutput(gen, value)
		case "ramp":
			delta, _ := params["delta"].(float64)
			current, err := generatorOutput(sim, gen)
			if err != nil {
				return err
			}
			return sim.SetGeneratorOutput(gen, current+delta)
		default:
			return fmt.Errorf("actuator: generator cannot execute %q", action)
		}
	}
	status := func(id string) (map[string]any, error) {
		gen, err := parseID("gen_", id)
		if err != nil {
			return nil, err
		}
		st := sim.State()
		for _, g := range st.Generators {
			if g.ID == gen {
				return map[string]any{"id": id, "p_mw": g.PMW, "p_max_mw": g.PMaxMW, "in_service": g.InService}, nil
			}
		}
		return nil, fmt.Errorf("actuator: unknown generator %d", gen)
	}
	return newActuator(KindGenerator, zone, sim, []string{"set_output", "ramp", "emergency_stop"}, nil, devices, execute, status)
}

func generatorOutput(sim *gridsim.Simulation, gen int) (float64, error) {
	st := sim.State()
	for _, g := range st.Generators {
		if g.ID == gen {
			return g.PMW, nil
		}
	}
	return 0, fmt.Errorf("actuator: unknown generator %d", gen)
}

// NewLoadController builds a per-zone actuator over every load sited on a
// bus in zone; id is "load_<n>".
func NewLoadController(sim *gridsim.Simulation, zone string) *Actuator {
	inZone := func() []gridsim.Load {
		st := sim.State()
		busZone := make(map[int]string, len(st.Buses))
		for _, b := range st.Buses {
			busZone[b.ID] = b.Zone
		}
		var out []gridsim.Load
		for _, l := range st.Loads {
			if busZone[l.Bus] == zone {
				out = append(out, l)
			}
		}
		return out
	}
	devices := func() []string {
		var out []string
		for _, l := range inZone() {
			out = append(out, fmt.Sprintf("load_%d", l.ID))
		}
		return out
	}
	execute := func(id, action string, params map[string]any) error {
		load, err := parseID("load_", id)
		if err != nil {
			return err
		}
		switch action {
		case "scale":
			factor, _ := params["factor"].(float64)
			return sim.ScaleLoad(load, factor)
		case "shed", "emergency_stop":
			return sim.ScaleLoad(load, 0)
		case "restore":
			return sim.ScaleLoad(load, 1)
		default:
			return fmt.Errorf("actuator: load_controller cannot execute %q", action)
		}
	}
	status := func(id string) (map[string]any, error) {
		load, err := parseID("load_", id)
		if err != nil {
			return nil, err
		}
		st := sim.State()
		for _, l := range st.Loads {
			if l.ID == load {
				return map[string]any{"id": id, "p_mw": l.PMW, "q_mvar": l.QMVAr}, nil
			}
		}
		return nil, fmt.Errorf("actuator: unknown load %d", load)
	}
	return newActuator(KindLoadController, zone, sim, []string{"scale", "shed", "restore", "emergency_stop"}, nil, devices, execute, status)
}

// NewVoltageRegulator builds a per-zone actuator over every shunt
// capacitor bank sited on a bus in zone; id is "shunt_<n>". Aliases
// normalize the "on"/"off" vocabulary some callers use onto
// activate/deactivate.
func NewVoltageRegulator(sim *gridsim.Simulation, zone string) *Actuator {
	inZone := func() []gridsim.Shunt {
		st := sim.State()
		busZone := make(map[int]string, len(st.Buses))
		for _, b := range st.Buses {
			busZone[b.ID] = b.Zone
		}
		var out []gridsim.Shunt
		for _, sh := range st.Shunts {
			if busZone[sh.Bus] == zone {
				out = append(out, sh)
			}
		}
		return out
	}
	devices := func() []string {
		var out []string
		for _, sh := range inZone() {
			out = append(out, fmt.Sprintf("shunt_%d", sh.ID))
		}
		return out
	}
	execute := func(id, action string, _ map[string]any) error {
		shunt, err := parseID("shunt_", id)
		if err != nil {
			return err
		}
		switch action {
		case "activate":
			return sim.SetShuntStatus(shunt, true)
		case "deactivate", "emergency_stop":
			return sim.SetShuntStatus(shunt, false)
		default:
			return fmt.Errorf("actuator: voltage_regulator cannot execute %q", action)
		}
	}
	status := func(id string) (map[string]any, error) {
		shunt, err := parseID("shunt_", id)
		if err != nil {
			return nil, err
		}
		st := sim.State()
		for _, sh := range st.Shunts {
			if sh.ID == shunt {
				return map[string]any{"id": id, "in_service": sh.InService, "q_mvar": sh.QMVAr}, nil
			}
		}
		return nil, fmt.Errorf("actuator: unknown shunt %d", shunt)
	}
	aliases := map[string]string{"on": "activate", "off": "deactivate", "enable": "activate", "disable": "deactivate"}
	return newActuator(KindVoltageRegulator, zone, sim, []string{"activate", "deactivate", "emergency_stop"}, aliases, devices, execute, status)
}

const (
	storageCapacityMWh = 20.0
	storagePowerMW     = 5.0
	minSoCPercent      = 5.0
)

// storageUnit is one battery's charge state. Storage has no counterpart in
// the bus/line/generator topology, so it is tracked independently of
// gridsim.GridState. Charging and discharging change only the unit's
// state of charge; no load or generator in the grid is altered.
type storageUnit struct {
	socPercent float64
}

// NewEnergyStorage synthesizes one battery per zone. gridsim has no native
// storage component, and discharging does not offset any zone load: it
// only lowers the unit's state of charge. Discharging below 5% state of
// charge is refused.
func NewEnergyStorage(sim *gridsim.Simulation, zone string) *Actuator {
	var mu sync.Mutex
	units := map[string]*storageUnit{
		fmt.Sprintf("storage_%s", zone): {socPercent: 80.0},
	}

	devices := func() []string {
		out := make([]string, 0, len(units))
		for id := range units {
			out = append(out, id)
		}
		return out
	}
	execute := func(id, action string, params map[string]any) error {
		mu.Lock()
		unit, ok := units[id]
		mu.Unlock()
		if !ok {
			return fmt.Errorf("actuator: unknown storage unit %q", id)
		}
		switch action {
		case "charge":
			mu.Lock()
			unit.socPercent = math.Min(100, unit.socPercent+socDeltaPercent(params))
			mu.Unlock()
			return nil
		case "discharge":
			mu.Lock()
			projected := unit.socPercent - socDeltaPercent(params)
			mu.Unlock()
			if projected < minSoCPercent {
				return fmt.Errorf("actuator: storage unit %q cannot discharge below %.0f%% state of charge", id, minSoCPercent)
			}
			mu.Lock()
			unit.socPercent = projected
			mu.Unlock()
			return nil
		case "stop", "emergency_stop":
			return nil
		default:
			return fmt.Errorf("actuator: energy_storage cannot execute %q", action)
		}
	}
	status := func(id string) (map[string]any, error) {
		mu.Lock()
		unit, ok := units[id]
		mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("actuator: unknown storage unit %q", id)
		}
		return map[string]any{"id": id, "soc_percent": unit.socPercent, "capacity_mwh": storageCapacityMWh}, nil
	}
	return newActuator(KindEnergyStorage, zone, sim, []string{"charge", "discharge", "stop", "emergency_stop"}, nil, devices, execute, status)
}

func socDeltaPercent(params map[string]any) float64 {
	rateMW, _ := params["rate_mw"].(float64)
	if rateMW <= 0 {
		rateMW = storagePowerMW
	}
	return (rateMW / storageCapacityMWh) * 100.0
}

func parseID(prefix, id string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(id, prefix+"%d", &n); err != nil {
		return 0, fmt.Errorf("actuator: malformed device id %q, expected prefix %q", id, prefix)
	}
	return n, nil
}
