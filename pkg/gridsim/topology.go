package gridsim

// Static IEEE 30-bus topology, ported from the bus/branch/generator layout of
// the standard case30 reference network. Per-unit bus geometry (x, y) is a
// synthesized layout for dashboard rendering only, not a real substation map.

const busCount = 30

// zoneOf returns the zone id owning bus index idx (0-based). Tie buses do
// not exist — every bus belongs to exactly one zone, only lines can be ties.
func zoneOf(idx int) string {
	switch {
	case idx >= 0 && idx <= 9:
		return "zone1"
	case idx >= 10 && idx <= 19:
		return "zone2"
	case idx >= 20 && idx <= 29:
		return "zone3"
	default:
		return ""
	}
}

// branch is a (from, to) pair using 0-based bus indices, ported from the
// case30 branch list.
type branch struct {
	from, to int
}

var caseBranches = []branch{
	{0, 1}, {0, 2}, {1, 3}, {2, 3}, {1, 4}, {1, 5}, {3, 5}, {4, 6}, {5, 6},
	{5, 7}, {5, 8}, {5, 9}, {8, 10}, {8, 9}, {3, 11}, {11, 12}, {11, 13},
	{11, 14}, {11, 15}, {13, 14}, {15, 16}, {14, 17}, {17, 18}, {18, 19},
	{9, 19}, {9, 16}, {9, 20}, {9, 21}, {20, 21}, {14, 22}, {21, 23},
	{22, 23}, {23, 24}, {24, 25}, {24, 26}, {27, 26}, {26, 28}, {26, 29},
	{28, 29}, {7, 27}, {5, 27},
}

// transformerBranches are the subset of caseBranches that carry a tap ratio
// in the reference network and are therefore modeled as transformers rather
// than plain lines.
var transformerBranches = map[branch]bool{
	{5, 8}:  true,
	{5, 9}:  true,
	{3, 11}: true,
}

// generatorBuses are the 0-based buses hosting a dispatchable generator.
var generatorBuses = []int{0, 1, 12, 21, 22, 26}

// loadBuses are the 0-based buses with a non-zero demand.
var loadBuses = []int{1, 2, 3, 6, 7, 9, 11, 13, 14, 15, 16, 17, 18, 19, 20, 22, 23, 25, 28, 29}

// shuntBuses are the 0-based buses carrying a synthesized capacitor bank.
var shuntBuses = []int{9, 23, 28}

const lineThermalLimitKA = 1.0

// synthesizeLayout assigns a deterministic (x, y) position to bus idx for
// dashboard rendering, arranging the three zones in three horizontal bands.
func synthesizeLayout(idx int) (x, y float64) {
	zoneIdx := idx / 10
	posInZone := idx % 10
	x = float64(posInZone) * 100.0
	y = float64(zoneIdx) * 150.0
	return x, y
}

// NewCanonicalCase builds the 30-bus reference state: shunts are synthesized
// on shuntBuses, transformers on transformerBranches, generators and loads
// at their fixed buses, with every bus starting at 1.0 p.u. and 60 Hz.
func NewCanonicalCase() *GridState {
	s := &GridState{FrequencyHz: NominalFreqHz}

	for i := 0; i < busCount; i++ {
		x, y := synthesizeLayout(i)
		s.Buses = append(s.Buses, Bus{ID: i, VmPU: 1.0, X: x, Y: y, Zone: zoneOf(i)})
	}

	lineID := 0
	for _, b := range caseBranches {
		if transformerBranches[b] {
			continue
		}
		s.Lines = append(s.Lines, Line{
			ID:             lineID,
			From:           b.from,
			To:             b.to,
			InService:      true,
			LoadingPercent: 0,
			CurrentKA:      0,
			ThermalLimitKA: lineThermalLimitKA,
		})
		lineID++
	}

	xfID := 0
	for _, b := range caseBranches {
		if !transformerBranches[b] {
			continue
		}
		s.Transformers = append(s.Transformers, Transformer{
			ID:             xfID,
			HVBus:          b.from,
			LVBus:          b.to,
			LoadingPercent: 0,
			TempC:          ambientTempC,
		})
		xfID++
	}

	for i, bus := range generatorBuses {
		s.Generators = append(s.Generators, Generator{
			ID:        i,
			Bus:       bus,
			InService: true,
			PMW:       40.0,
			QMVAr:     10.0,
			PMaxMW:    140.0,
			PMinMW:    0.0,
			QMaxMVAr:  60.0,
			QMinMVAr:  -40.0,
		})
	}
	// slack generator on bus 0 carries extra headroom to balance the case.
	s.Generators[0].PMaxMW = 250.0
	s.Generators[0].PMW = 120.0

	for i, bus := range loadBuses {
		s.Loads = append(s.Loads, Load{
			ID:    i,
			Bus:   bus,
			PMW:   8.0,
			QMVAr: 2.5,
		})
	}

	for i, bus := range shuntBuses {
		s.Shunts = append(s.Shunts, Shunt{
			ID:        i,
			Bus:       bus,
			InService: false,
			QMVAr:     19.0,
		})
	}

	return s
}

// ZoneBuses returns the bus indices owned by zone id.
func ZoneBuses(zone string) []int {
	var out []int
	for i := 0; i < busCount; i++ {
		if zoneOf(i) == zone {
			out = append(out, i)
		}
	}
	return out
}

// ZoneIDs lists every zone in the partition, in order.
func ZoneIDs() []string {
	return []string{"zone1", "zone2", "zone3"}
}
