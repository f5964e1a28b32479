package gridsim

import "time"

// DashboardNode is one bus entry in the dashboard state message.
type DashboardNode struct {
	ID   int     `json:"id"`
	VmPU float64 `json:"vm_pu"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zone string  `json:"zone"`
}

// DashboardEdge is one line entry in the dashboard state message.
type DashboardEdge struct {
	ID             int     `json:"id"`
	LoadingPercent float64 `json:"loading_percent"`
	FromBus        int     `json:"from_bus"`
	ToBus          int     `json:"to_bus"`
}

// DashboardState is the public grid_state payload shape: a condensed,
// read-only view suitable for publication on the event bus and for the
// dashboard snapshot file.
type DashboardState struct {
	Timestamp        time.Time          `json:"timestamp"`
	TotalGenerationMW float64           `json:"total_generation_mw"`
	TotalLoadMW      float64            `json:"total_load_mw"`
	TotalLossesMW    float64            `json:"total_losses_mw"`
	FrequencyHz      float64            `json:"frequency_hz"`
	Nodes            []DashboardNode    `json:"nodes"`
	Edges            []DashboardEdge    `json:"edges"`
	ZoneHealth       map[string]string  `json:"zone_health"`
	Violations       []Violation        `json:"violations"`
}

// GetState renders the current grid state as the dashboard message shape,
// including a computed per-zone health summary.
func (s *Simulation) GetState() DashboardState {
	st := s.State()
	violations := checkViolations(st)

	nodes := make([]DashboardNode, 0, len(st.Buses))
	for _, b := range st.Buses {
		nodes = append(nodes, DashboardNode{ID: b.ID, VmPU: b.VmPU, X: b.X, Y: b.Y, Zone: b.Zone})
	}

	edges := make([]DashboardEdge, 0, len(st.Lines))
	for _, l := range st.Lines {
		edges = append(edges, DashboardEdge{ID: l.ID, LoadingPercent: l.LoadingPercent, FromBus: l.From, ToBus: l.To})
	}

	zoneHealth := map[string]string{}
	for _, zone := range ZoneIDs() {
		zoneHealth[zone] = zoneHealthFor(zone, violations)
	}

	totalGen, totalLoad := 0.0, 0.0
	for _, g := range st.Generators {
		if g.InService {
			totalGen += g.PMW
		}
	}
	for _, l := range st.Loads {
		totalLoad += l.PMW
	}

	return DashboardState{
		Timestamp:         time.Now(),
		TotalGenerationMW: totalGen,
		TotalLoadMW:       totalLoad,
		TotalLossesMW:     totalGen - totalLoad,
		FrequencyHz:       st.FrequencyHz,
		Nodes:             nodes,
		Edges:             edges,
		ZoneHealth:        zoneHealth,
		Violations:        violations,
	}
}

// zoneHealthFor classifies a zone as healthy/warning/critical from the
// violations belonging to it.
func zoneHealthFor(zone string, violations []Violation) string {
	status := "healthy"
	for _, v := range violations {
		if v.Zone != zone {
			continue
		}
		if v.Severity == SeverityCritical {
			return "critical"
		}
		status = "warning"
	}
	return status
}
