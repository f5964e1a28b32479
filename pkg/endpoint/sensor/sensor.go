// Package sensor implements the Sensor endpoint family: voltage (per bus),
// current (per line), temperature (per transformer), frequency
// (system-wide, single sensor), and power-quality (one per zone, a THD
// stand-in). Every kind shares one Sensor implementation parameterized by
// an id-enumeration function and a per-id reader.
package sensor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ocx/gridguardian/pkg/endpoint"
	"github.com/ocx/gridguardian/pkg/gridsim"
	"github.com/ocx/gridguardian/pkg/registry"
)

// Kind enumerates the required sensor kinds.
type Kind string

const (
	KindVoltage      Kind = "voltage"
	KindCurrent      Kind = "current"
	KindTemperature  Kind = "temperature"
	KindFrequency    Kind = "frequency"
	KindPowerQuality Kind = "power_quality"
)

type threshold struct {
	min, max float64
	set      bool
}

// Sensor is the shared implementation for every sensor kind.
type Sensor struct {
	serverID string
	kind     Kind
	unit     string
	zone     string

	mu         sync.RWMutex
	thresholds map[string]threshold

	ids  func() []string
	read func(id string) (float64, error)
}

var _ endpoint.Endpoint = (*Sensor)(nil)

func (s *Sensor) ServerID() string { return s.serverID }

// Registration builds this sensor's registry record with its fixed tool
// set advertised as read_only.
func (s *Sensor) Registration() registry.Registration {
	desc := func(name, description string) registry.ToolDescriptor {
		return registry.ToolDescriptor{Name: name, Description: description, SafetyClass: registry.SafetyReadOnly}
	}
	return registry.Registration{
		ServerID:  s.serverID,
		Name:      fmt.Sprintf("%s_sensor", s.kind),
		Tier:      registry.TierPhysical,
		Domain:    "power_grid",
		Zone:      s.zone,
		Transport: "in_process",
		Tools: []registry.ToolDescriptor{
			desc("read_sensor", fmt.Sprintf("Read a single %s sensor by id", s.kind)),
			desc("read_sensors_batch", fmt.Sprintf("Read several %s sensors by id", s.kind)),
			desc("list_sensors", fmt.Sprintf("List every %s sensor id this endpoint exposes", s.kind)),
			desc("set_threshold", fmt.Sprintf("Install an alert threshold on a %s sensor", s.kind)),
			desc("get_metadata", fmt.Sprintf("Return %s sensor kind, unit, and zone metadata", s.kind)),
		},
	}
}

// Invoke dispatches one of the five sensor tools by name.
func (s *Sensor) Invoke(_ context.Context, toolName string, params map[string]any) (any, error) {
	switch toolName {
	case "read_sensor":
		id, _ := params["id"].(string)
		return s.readOne(id)
	case "read_sensors_batch":
		ids, _ := params["ids"].([]string)
		return s.readBatch(ids)
	case "list_sensors":
		return s.ids(), nil
	case "set_threshold":
		id, _ := params["id"].(string)
		min, _ := params["min"].(float64)
		max, _ := params["max"].(float64)
		s.setThreshold(id, min, max)
		return map[string]any{"id": id, "min": min, "max": max}, nil
	case "get_metadata":
		return map[string]any{"kind": string(s.kind), "unit": s.unit, "zone": s.zone}, nil
	default:
		return nil, &endpoint.ErrUnknownTool{ServerID: s.serverID, Tool: toolName}
	}
}

func (s *Sensor) readOne(id string) (map[string]any, error) {
	value, err := s.read(id)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"id": id, "value": value, "unit": s.unit}
	if alert, ok := s.checkThreshold(id, value); ok {
		out["alert"] = alert
	}
	return out, nil
}

func (s *Sensor) readBatch(ids []string) (map[string]any, error) {
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		reading, err := s.readOne(id)
		if err != nil {
			out[id] = map[string]any{"error": err.Error()}
			continue
		}
		out[id] = reading
	}
	return out, nil
}

func (s *Sensor) setThreshold(id string, min, max float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[id] = threshold{min: min, max: max, set: true}
}

func (s *Sensor) checkThreshold(id string, value float64) (string, bool) {
	s.mu.RLock()
	t, ok := s.thresholds[id]
	s.mu.RUnlock()
	if !ok || !t.set {
		return "", false
	}
	if value < t.min {
		return "below_threshold", true
	}
	if value > t.max {
		return "above_threshold", true
	}
	return "", false
}

func newSensor(kind Kind, unit, zone string, ids func() []string, read func(string) (float64, error)) *Sensor {
	return &Sensor{
		serverID:   endpoint.NewServerID(fmt.Sprintf("sensor_%s", kind), zone),
		kind:       kind,
		unit:       unit,
		zone:       zone,
		thresholds: make(map[string]threshold),
		ids:        ids,
		read:       read,
	}
}

// NewVoltage builds a per-bus voltage sensor scoped to zone.
func NewVoltage(sim *gridsim.Simulation, zone string) *Sensor {
	ids := func() []string {
		buses := gridsim.ZoneBuses(zone)
		out := make([]string, len(buses))
		for i, b := range buses {
			out[i] = gridsim.BusComponentID(b)
		}
		return out
	}
	read := func(id string) (float64, error) {
		bus, err := parseComponentID("bus_", id)
		if err != nil {
			return 0, err
		}
		return sim.GetBusVoltage(bus)
	}
	return newSensor(KindVoltage, "p.u.", zone, ids, read)
}

// NewCurrent builds a per-line current sensor scoped to zone (both
// endpoints of the line must be owned by zone — see Simulation.GetZoneLines).
func NewCurrent(sim *gridsim.Simulation, zone string) *Sensor {
	ids := func() []string {
		lines := sim.GetZoneLines(zone)
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = gridsim.LineComponentID(l)
		}
		return out
	}
	read := func(id string) (float64, error) {
		line, err := parseComponentID("line_", id)
		if err != nil {
			return 0, err
		}
		return sim.GetLineCurrent(line)
	}
	return newSensor(KindCurrent, "kA", zone, ids, read)
}

// NewTemperature builds a system-wide per-transformer temperature sensor
// (transformers are not zone-partitioned, so this endpoint carries no
// zone).
func NewTemperature(sim *gridsim.Simulation) *Sensor {
	ids := func() []string {
		loadings := sim.GetTransformerLoadings()
		out := make([]string, 0, len(loadings))
		for id := range loadings {
			out = append(out, fmt.Sprintf("transformer_%d", id))
		}
		return out
	}
	read := func(id string) (float64, error) {
		xf, err := parseComponentID("transformer_", id)
		if err != nil {
			return 0, err
		}
		return sim.GetTransformerTemperature(xf)
	}
	return newSensor(KindTemperature, "celsius", "", ids, read)
}

// NewFrequency builds the single system-wide frequency sensor.
func NewFrequency(sim *gridsim.Simulation) *Sensor {
	ids := func() []string { return []string{"system"} }
	read := func(id string) (float64, error) {
		if id != "system" {
			return 0, fmt.Errorf("sensor: unknown frequency sensor id %q", id)
		}
		return sim.GetFrequency(), nil
	}
	return newSensor(KindFrequency, "hz", "", ids, read)
}

// NewPowerQuality builds a zone's single power-quality (THD) sensor, a
// stand-in derived from how far the zone's line loadings deviate from a
// flat load profile.
func NewPowerQuality(sim *gridsim.Simulation, zone string) *Sensor {
	ids := func() []string { return []string{zone} }
	read := func(id string) (float64, error) {
		if id != zone {
			return 0, fmt.Errorf("sensor: unknown power-quality sensor id %q", id)
		}
		lines := sim.GetZoneLines(zone)
		loadings := sim.GetLineLoadings()
		if len(lines) == 0 {
			return 0, nil
		}
		total := 0.0
		for _, l := range lines {
			total += loadings[l]
		}
		mean := total / float64(len(lines))
		variance := 0.0
		for _, l := range lines {
			d := loadings[l] - mean
			variance += d * d
		}
		variance /= float64(len(lines))
		return variance / 100.0, nil // THD-percent stand-in
	}
	return newSensor(KindPowerQuality, "thd_percent", zone, ids, read)
}

func parseComponentID(prefix, id string) (int, error) {
	if !strings.HasPrefix(id, prefix) {
		return 0, fmt.Errorf("sensor: malformed component id %q, expected prefix %q", id, prefix)
	}
	return strconv.Atoi(strings.TrimPrefix(id, prefix))
}
