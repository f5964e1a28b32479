package gridsim

import (
	"strconv"
	"strings"
	"time"
)

// checkViolationsLocked evaluates the live state against the fixed
// protection thresholds. Despite the name it acquires the simulation's own
// mutex for the duration of the read; "Locked" describes that it returns a
// point-in-time, internally-consistent snapshot of violations, not that the
// caller must hold the lock.
func (s *Simulation) checkViolationsLocked() []Violation {
	s.mu.Lock()
	st := s.state.clone()
	s.mu.Unlock()
	return checkViolations(st)
}

func checkViolations(st *GridState) []Violation {
	now := time.Now()
	var out []Violation

	for _, b := range st.Buses {
		switch {
		case b.VmPU < CriticalLowVoltPU:
			out = append(out, Violation{Kind: ViolationVoltageLow, Zone: b.Zone, Severity: SeverityCritical, ComponentID: busComponentID(b.ID), Value: b.VmPU, Limit: UnderVoltagePU, At: now})
		case b.VmPU < UnderVoltagePU:
			out = append(out, Violation{Kind: ViolationVoltageLow, Zone: b.Zone, Severity: SeverityWarning, ComponentID: busComponentID(b.ID), Value: b.VmPU, Limit: UnderVoltagePU, At: now})
		case b.VmPU > CriticalHighVoltPU:
			out = append(out, Violation{Kind: ViolationVoltageHigh, Zone: b.Zone, Severity: SeverityCritical, ComponentID: busComponentID(b.ID), Value: b.VmPU, Limit: OverVoltagePU, At: now})
		case b.VmPU > OverVoltagePU:
			out = append(out, Violation{Kind: ViolationVoltageHigh, Zone: b.Zone, Severity: SeverityWarning, ComponentID: busComponentID(b.ID), Value: b.VmPU, Limit: OverVoltagePU, At: now})
		}
	}

	for _, l := range st.Lines {
		if !l.InService {
			continue
		}
		zone := lineZone(l, st)
		switch {
		case l.LoadingPercent > CriticalLoadingPct:
			out = append(out, Violation{Kind: ViolationThermal, Zone: zone, Severity: SeverityCritical, ComponentID: lineComponentID(l.ID), Value: l.LoadingPercent, Limit: MaxLineLoadingPct, At: now})
		case l.LoadingPercent > MaxLineLoadingPct:
			out = append(out, Violation{Kind: ViolationThermal, Zone: zone, Severity: SeverityWarning, ComponentID: lineComponentID(l.ID), Value: l.LoadingPercent, Limit: MaxLineLoadingPct, At: now})
		}
	}

	freqDev := abs(st.FrequencyHz - NominalFreqHz)
	switch {
	case freqDev > FreqCriticalBandHz:
		out = append(out, Violation{Kind: ViolationFrequency, Zone: "", Severity: SeverityCritical, ComponentID: "frequency", Value: st.FrequencyHz, Limit: NominalFreqHz, At: now})
	case freqDev > FreqWarningBandHz:
		out = append(out, Violation{Kind: ViolationFrequency, Zone: "", Severity: SeverityWarning, ComponentID: "frequency", Value: st.FrequencyHz, Limit: NominalFreqHz, At: now})
	}

	return out
}

func busComponentID(id int) string  { return BusComponentID(id) }
func lineComponentID(id int) string { return LineComponentID(id) }

// BusComponentID and LineComponentID name a component for violation
// records and for sensor/actuator ids built on top of gridsim; exported so
// pkg/endpoint can address the same components gridsim reports violations
// against.
func BusComponentID(id int) string  { return "bus_" + strconv.Itoa(id) }
func LineComponentID(id int) string { return "line_" + strconv.Itoa(id) }

// GeneratorComponentID, ShuntComponentID and LoadComponentID name the
// remaining actuable component kinds the same way, so a directive built
// for the strategic agent can hand out real device ids it did not have to
// invent.
func GeneratorComponentID(id int) string { return "gen_" + strconv.Itoa(id) }
func ShuntComponentID(id int) string     { return "shunt_" + strconv.Itoa(id) }
func LoadComponentID(id int) string      { return "load_" + strconv.Itoa(id) }

// BusIDFromComponent extracts the numeric bus id from a "bus_<id>"
// component id, returning false if s is not a bus component id.
func BusIDFromComponent(s string) (int, bool) {
	const prefix = "bus_"
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(s[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

func lineZone(l Line, st *GridState) string {
	fromZone, toZone := "", ""
	for _, b := range st.Buses {
		if b.ID == l.From {
			fromZone = b.Zone
		}
		if b.ID == l.To {
			toZone = b.Zone
		}
	}
	if fromZone == toZone {
		return fromZone
	}
	return ""
}
