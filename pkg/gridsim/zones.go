package gridsim

// GetZoneBuses returns the bus ids owned by zone (both endpoints of a line
// must be in the same zone for the line to count as owned — see
// GetZoneLines).
func (s *Simulation) GetZoneBuses(zone string) []int {
	return ZoneBuses(zone)
}

// GetZoneLines returns the line ids with both endpoints in zone. A line
// with exactly one endpoint in the zone is a tie-line and belongs to no
// zone.
func (s *Simulation) GetZoneLines(zone string) []int {
	st := s.State()
	busZone := make(map[int]string, len(st.Buses))
	for _, b := range st.Buses {
		busZone[b.ID] = b.Zone
	}

	var out []int
	for _, l := range st.Lines {
		if busZone[l.From] == zone && busZone[l.To] == zone {
			out = append(out, l.ID)
		}
	}
	return out
}

// GetTieLines returns the line ids with exactly one endpoint in zone.
func (s *Simulation) GetTieLines(zone string) []int {
	st := s.State()
	busZone := make(map[int]string, len(st.Buses))
	for _, b := range st.Buses {
		busZone[b.ID] = b.Zone
	}

	var out []int
	for _, l := range st.Lines {
		inZone := busZone[l.From] == zone
		outZone := busZone[l.To] == zone
		if inZone != outZone {
			out = append(out, l.ID)
		}
	}
	return out
}

// CheckViolations returns every currently-active violation in the live
// state. Used directly by the monitoring loop's detection sweep.
func (s *Simulation) CheckViolations() []Violation {
	return s.checkViolationsLocked()
}
