package gridsim

import (
	"errors"
	"math"
)

// ErrNonConvergent is returned by RunPowerFlow (and surfaced through every
// mutation that triggers it) when the stand-in solver cannot find a
// balanced operating point within its clamp limits.
var ErrNonConvergent = errors.New("gridsim: power flow did not converge")

const (
	ambientTempC       = 25.0
	transformerMaxRise = 65.0
	voltageDroopPerMW  = 0.0009
	meshCouplingMWPerV = 500.0
	lineBaseMW         = 100.0
	freqDroopHzPerPct  = 3.0
	lossFraction       = 0.025
	slackImbalanceTolMW = 50.0
)

// runPowerFlowLocked re-solves the grid's operating point in place. This is
// explicitly not a Newton-Raphson AC solver: the numerical power-flow
// engine itself is out of scope, and this stand-in exists only so every
// mutation has something deterministic to rerun and something to revert to
// on non-convergence. It always "converges" unless convergeHook (used by
// tests to exercise the revert path) returns true, or the slack generator
// cannot absorb the system imbalance within its clamps.
func (s *Simulation) runPowerFlowLocked() error {
	st := s.state

	if s.convergeHook != nil && s.convergeHook() {
		return ErrNonConvergent
	}

	totalLoad := 0.0
	for _, l := range st.Loads {
		totalLoad += l.PMW
	}

	otherGen := 0.0
	for i := range st.Generators {
		g := &st.Generators[i]
		if g.Bus == slackBus(st) || !g.InService {
			continue
		}
		otherGen += g.PMW
	}

	required := totalLoad*(1+lossFraction) - otherGen
	slackIdx := slackGenIndex(st)
	if slackIdx < 0 {
		return ErrNonConvergent
	}
	slack := &st.Generators[slackIdx]
	clamped := math.Max(slack.PMinMW, math.Min(slack.PMaxMW, required))
	slack.PMW = clamped

	if slack.InService && math.Abs(clamped-required) > slackImbalanceTolMW {
		return ErrNonConvergent
	}

	netInjection := make(map[int]float64, busCount)
	for _, g := range st.Generators {
		if g.InService {
			netInjection[g.Bus] += g.PMW
		}
	}
	for _, l := range st.Loads {
		netInjection[l.Bus] -= l.PMW
	}

	tree := buildSpanningTree(st)
	downstream := make(map[int]float64, busCount)
	computeDownstream(tree, 0, netInjection, downstream)

	for i := range st.Buses {
		b := &st.Buses[i]
		v := 1.0 + voltageDroopPerMW*downstream[b.ID]
		for _, sh := range st.Shunts {
			if sh.Bus == b.ID && sh.InService {
				v += sh.QMVAr / 500.0
			}
		}
		b.VmPU = v
	}

	treeChild := make(map[branch]int, len(tree.edges))
	for _, e := range tree.edges {
		treeChild[branch{e.from, e.to}] = e.to
		treeChild[branch{e.to, e.from}] = e.to
	}

	for i := range st.Lines {
		ln := &st.Lines[i]
		if !ln.InService {
			ln.LoadingPercent = 0
			ln.CurrentKA = 0
			continue
		}
		flowMW := lineFlowMW(ln.From, ln.To, treeChild, downstream, st)
		limitMW := ln.ThermalLimitKA / lineThermalLimitKA * lineBaseMW
		loading := math.Abs(flowMW) / limitMW * 100.0
		ln.LoadingPercent = loading
		ln.CurrentKA = loading / 100.0 * ln.ThermalLimitKA
	}

	for i := range st.Transformers {
		tf := &st.Transformers[i]
		flowMW := lineFlowMW(tf.HVBus, tf.LVBus, treeChild, downstream, st)
		loading := math.Abs(flowMW) / lineBaseMW * 100.0
		tf.LoadingPercent = loading
		tf.TempC = ambientTempC + transformerMaxRise*math.Pow(loading/100.0, 1.6)
	}

	totalGen := 0.0
	for _, g := range st.Generators {
		if g.InService {
			totalGen += g.PMW
		}
	}
	losses := lossFraction * totalLoad
	imbalancePct := 0.0
	if totalLoad > 0 {
		imbalancePct = (totalGen - totalLoad - losses) / totalLoad * 100.0
	}
	st.FrequencyHz = NominalFreqHz + imbalancePct/100.0*freqDroopHzPerPct

	return nil
}

func slackBus(st *GridState) int {
	if len(st.Generators) == 0 {
		return -1
	}
	return st.Generators[0].Bus
}

func slackGenIndex(st *GridState) int {
	if len(st.Generators) == 0 {
		return -1
	}
	return 0
}

// spanningTree is a BFS tree over the branch graph rooted at bus 0, used as
// a cheap linearized stand-in for a real power-transfer-distribution-factor
// matrix.
type spanningTree struct {
	children map[int][]int
	edges    []branch
}

func buildSpanningTree(st *GridState) *spanningTree {
	adj := map[int][]int{}
	addEdge := func(a, b int) {
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	for _, l := range st.Lines {
		addEdge(l.From, l.To)
	}
	for _, tf := range st.Transformers {
		addEdge(tf.HVBus, tf.LVBus)
	}

	visited := map[int]bool{0: true}
	tree := &spanningTree{children: map[int][]int{}}
	queue := []int{0}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			tree.children[cur] = append(tree.children[cur], next)
			tree.edges = append(tree.edges, branch{cur, next})
			queue = append(queue, next)
		}
	}
	return tree
}

// computeDownstream fills downstream[bus] with the net injection of bus and
// everything below it in tree, rooted at root.
func computeDownstream(tree *spanningTree, root int, netInjection map[int]float64, downstream map[int]float64) float64 {
	total := netInjection[root]
	for _, child := range tree.children[root] {
		total += computeDownstream(tree, child, netInjection, downstream)
	}
	downstream[root] = total
	return total
}

// lineFlowMW approximates the MW flow on the branch (from, to). Tree
// branches carry the downstream subtree's net injection; non-tree
// (meshing) branches are approximated from the voltage difference they'd
// need to support, a small linear coupling since the underlying case is
// close to flat-start.
func lineFlowMW(from, to int, treeChild map[branch]int, downstream map[int]float64, st *GridState) float64 {
	if child, ok := treeChild[branch{from, to}]; ok {
		return downstream[child]
	}
	vf, vt := busVoltage(st, from), busVoltage(st, to)
	return (vf - vt) * meshCouplingMWPerV
}

func busVoltage(st *GridState, bus int) float64 {
	for _, b := range st.Buses {
		if b.ID == bus {
			return b.VmPU
		}
	}
	return 1.0
}
