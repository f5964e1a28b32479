// Package monitor implements the fixed-period orchestration cycle:
// detect violations, dispatch each affected zone's deterministic safety
// rules in parallel, escalate whatever zones could not resolve their own
// violations to the strategic agent, and publish the resulting grid
// state. Grounded on original_source/.../strategic/monitor.py's cycle
// shape, restructured from asyncio tasks to goroutines fanned out
// through golang.org/x/sync/errgroup, the teacher lineage's idiom for a
// bounded-concurrency parallel dispatch with first-error propagation.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ocx/gridguardian/pkg/eventbus"
	"github.com/ocx/gridguardian/pkg/gridsim"
	"github.com/ocx/gridguardian/pkg/metrics"
)

const (
	defaultInterval   = 5 * time.Second
	zoneDispatchTimeout = 10 * time.Second
	escalationTimeout   = 300 * time.Second
	healthyLogEveryN    = 6
	loadJitterFraction  = 0.05
)

// ZoneEngine is the subset of *zone.Engine the monitor dispatches
// against, narrowed to an interface so tests can supply a stub without
// constructing a full gridsim.Simulation per zone.
type ZoneEngine interface {
	ZoneID() string
	ExecuteSafetyRules() map[string]any
}

// StrategicAgent is the subset of *agent.Agent the monitor escalates to.
type StrategicAgent interface {
	Query(ctx context.Context, message string, escalation bool) string
}

// Loop is the monitoring orchestrator: one per running system.
type Loop struct {
	sim   *gridsim.Simulation
	zones map[string]ZoneEngine
	agent StrategicAgent
	bus   *eventbus.Bus

	interval time.Duration

	varyLoads bool
	rng       *rand.Rand

	mu         sync.Mutex
	running    bool
	cycleCount int
	stop       chan struct{}
	done       chan struct{}
}

// New constructs a Loop. zones is keyed by zone id; interval<=0 uses the
// default five-second cadence.
func New(sim *gridsim.Simulation, zones map[string]ZoneEngine, ag StrategicAgent, bus *eventbus.Bus, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{sim: sim, zones: zones, agent: ag, bus: bus, interval: interval, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// SetVaryLoads toggles per-cycle random load jitter: one randomly chosen
// load is nudged by up to loadJitterFraction of its current demand before
// violations are
// checked, so a long-running demo keeps drifting toward new conditions
// instead of sitting on a single static snapshot.
func (l *Loop) SetVaryLoads(enabled bool) {
	l.varyLoads = enabled
}

// Start runs the monitoring loop until Stop is called or ctx is canceled.
// It blocks; callers typically run it in its own goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.mu.Unlock()

	slog.Info("monitor: loop started", "interval", l.interval, "zones", len(l.zones))
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor: loop stopped by context cancellation")
			return
		case <-l.stop:
			slog.Info("monitor: loop stopped")
			return
		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

// Stop requests the loop to exit and blocks until it does.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stop, done := l.stop, l.done
	l.mu.Unlock()

	close(stop)
	<-done
}

// runCycle is one detect → zone-dispatch → escalate → publish pass. A
// panic or error inside any one zone's rule evaluation never aborts the
// cycle: the failing zone's violations simply escalate, matching
// original_source's "zone PLC error → escalate" fallback.
func (l *Loop) runCycle(ctx context.Context) {
	l.mu.Lock()
	l.cycleCount++
	cycle := l.cycleCount
	l.mu.Unlock()
	metrics.CyclesTotal.Inc()

	if l.varyLoads {
		l.jitterLoads()
	}

	violations := l.sim.CheckViolations()
	if len(violations) == 0 {
		if cycle%healthyLogEveryN == 0 {
			slog.Info("monitor: cycle clean", "cycle", cycle)
		}
		l.publishGridState(map[string]int{})
		return
	}

	slog.Warn("monitor: violations detected", "cycle", cycle, "count", len(violations))

	byZone := make(map[string]int)
	for _, v := range violations {
		byZone[v.Zone]++
	}
	for zone, count := range byZone {
		metrics.ViolationsTotal.WithLabelValues(zone).Add(float64(count))
	}

	escalatedZones := l.dispatchZones(ctx, byZone)

	if len(escalatedZones) > 0 {
		for _, zone := range escalatedZones {
			metrics.EscalationsTotal.WithLabelValues(zone).Inc()
		}
		l.escalate(ctx, escalatedZones, violations)
	}

	l.publishGridState(byZone)
}

// jitterLoads nudges a single randomly chosen load's demand by up to
// loadJitterFraction, reusing ScaleLoad so the resulting power flow solve
// happens the normal way. One load per cycle keeps this to a single solve
// instead of one per load on the bus.
func (l *Loop) jitterLoads() {
	loads := l.sim.State().Loads
	if len(loads) == 0 {
		return
	}
	load := loads[l.rng.Intn(len(loads))]
	factor := 1 + (l.rng.Float64()*2-1)*loadJitterFraction
	if err := l.sim.ScaleLoad(load.ID, factor); err != nil {
		slog.Warn("monitor: load jitter failed", "load", load.ID, "error", err)
	}
}

// dispatchZones runs ExecuteSafetyRules for every zone carrying at least
// one violation this cycle, in parallel via errgroup, each bounded by its
// own per-zone timeout. It returns the zones whose rules could not
// resolve the situation: no coordinator registered, a timeout, an error,
// or an explicit escalation_required verdict.
func (l *Loop) dispatchZones(ctx context.Context, byZone map[string]int) []string {
	var mu sync.Mutex
	var escalated []string

	g, gCtx := errgroup.WithContext(ctx)
	for zoneID := range byZone {
		zoneID := zoneID
		engine, ok := l.zones[zoneID]
		if !ok {
			mu.Lock()
			escalated = append(escalated, zoneID)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			zCtx, cancel := context.WithTimeout(gCtx, zoneDispatchTimeout)
			defer cancel()

			result := runWithTimeout(zCtx, func() map[string]any {
				return engine.ExecuteSafetyRules()
			})

			if result == nil {
				slog.Warn("monitor: zone PLC timed out", "zone", zoneID)
				mu.Lock()
				escalated = append(escalated, zoneID)
				mu.Unlock()
				return nil
			}

			if status, _ := result["status"].(string); status == "escalation_required" {
				slog.Warn("monitor: zone PLC escalating", "zone", zoneID)
				mu.Lock()
				escalated = append(escalated, zoneID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return escalated
}

// runWithTimeout runs fn on its own goroutine and returns nil if ctx
// expires before fn completes or if fn panics. fn itself has no
// cancellation hook — the deterministic safety rules are expected to be
// fast — this only bounds how long the monitor will wait for a stuck
// evaluation.
func runWithTimeout(ctx context.Context, fn func() map[string]any) map[string]any {
	resultCh := make(chan map[string]any, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("monitor: zone PLC panicked", "panic", r)
				resultCh <- nil
			}
		}()
		resultCh <- fn()
	}()

	select {
	case r := <-resultCh:
		return r
	case <-ctx.Done():
		return nil
	}
}

// escalate builds a directive summarizing the unresolved zones and sends
// it to the strategic agent, bounded by escalationTimeout.
func (l *Loop) escalate(ctx context.Context, zones []string, violations []gridsim.Violation) {
	if l.agent == nil {
		slog.Warn("monitor: escalation needed but no strategic agent configured", "zones", zones)
		return
	}

	directive := l.buildDirective(zones, violations)

	escCtx, cancel := context.WithTimeout(ctx, escalationTimeout)
	defer cancel()

	responseCh := make(chan string, 1)
	go func() { responseCh <- l.agent.Query(escCtx, directive, true) }()

	select {
	case response := <-responseCh:
		slog.Info("monitor: strategic agent responded", "response", truncate(response, 300))
	case <-escCtx.Done():
		slog.Warn("monitor: strategic agent timed out")
	}
}

// buildDirective synthesizes the escalation prompt the strategic agent
// oracle reads. It never lets the model invent a device id: every id it
// names comes straight off the live simulation state. It groups the
// unresolved violations by kind and, where the grid's own topology makes
// an obvious first move, proposes one so the agent has somewhere concrete
// to start instead of a blank investigation.
func (l *Loop) buildDirective(zones []string, violations []gridsim.Violation) string {
	inZone := make(map[string]bool, len(zones))
	for _, z := range zones {
		inZone[z] = true
	}

	var lowVoltBuses, highVoltBuses, overloadedLines []string
	for _, v := range violations {
		if v.Zone != "" && !inZone[v.Zone] {
			continue
		}
		switch v.Kind {
		case gridsim.ViolationVoltageLow:
			lowVoltBuses = append(lowVoltBuses, v.ComponentID)
		case gridsim.ViolationVoltageHigh:
			highVoltBuses = append(highVoltBuses, v.ComponentID)
		case gridsim.ViolationThermal:
			overloadedLines = append(overloadedLines, v.ComponentID)
		}
	}

	st := l.sim.State()
	busZone := make(map[int]string, len(st.Buses))
	for _, bus := range st.Buses {
		busZone[bus.ID] = bus.Zone
	}

	var b strings.Builder
	b.WriteString("GRID EMERGENCY — zones unable to resolve their own violations: ")
	b.WriteString(strings.Join(zones, ", "))
	b.WriteString("\n\n")

	if len(lowVoltBuses) > 0 {
		fmt.Fprintf(&b, "Low-voltage buses: %s\n", strings.Join(lowVoltBuses, ", "))
	}
	if len(highVoltBuses) > 0 {
		fmt.Fprintf(&b, "High-voltage buses: %s\n", strings.Join(highVoltBuses, ", "))
	}
	if len(overloadedLines) > 0 {
		fmt.Fprintf(&b, "Overloaded lines: %s\n", strings.Join(overloadedLines, ", "))
	}

	b.WriteString("\nDevices available in the affected zones (use only these ids, never invent one):\n")
	for _, g := range st.Generators {
		if inZone[busZone[g.Bus]] {
			fmt.Fprintf(&b, "  %s: zone=%s p_mw=%.1f p_max_mw=%.1f in_service=%t\n",
				gridsim.GeneratorComponentID(g.ID), busZone[g.Bus], g.PMW, g.PMaxMW, g.InService)
		}
	}
	for _, sh := range st.Shunts {
		if inZone[busZone[sh.Bus]] {
			fmt.Fprintf(&b, "  %s (capacitor bank): zone=%s in_service=%t\n",
				gridsim.ShuntComponentID(sh.ID), busZone[sh.Bus], sh.InService)
		}
	}
	for _, ld := range st.Loads {
		if inZone[busZone[ld.Bus]] {
			fmt.Fprintf(&b, "  %s: zone=%s p_mw=%.1f\n", gridsim.LoadComponentID(ld.ID), busZone[ld.Bus], ld.PMW)
		}
	}

	var actions []string
	if len(lowVoltBuses) > 0 {
		if gen := nearestGenerator(st, busZone, inZone, lowVoltBuses); gen != nil {
			target := math.Min(gen.PMaxMW, gen.PMW+10.0)
			actions = append(actions, fmt.Sprintf("raise %s output from %.1f MW to %.1f MW (clamped to its %.1f MW max)",
				gridsim.GeneratorComponentID(gen.ID), gen.PMW, target, gen.PMaxMW))
		}
		if banks := offlineShunts(st, busZone, inZone); len(banks) > 0 {
			actions = append(actions, "activate capacitor bank(s) "+strings.Join(banks, ", ")+" to support voltage")
		}
	}
	if len(overloadedLines) > 0 {
		if targets := loadsToScale(st, busZone, inZone, 2); len(targets) > 0 {
			actions = append(actions, "scale load(s) "+strings.Join(targets, ", ")+" to 0.8x to relieve thermal overload")
		}
	}

	if len(actions) > 0 {
		b.WriteString("\nProposed first actions:\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}
	b.WriteString("\nInvestigate further and issue corrective actuator calls as needed.")
	return b.String()
}

// nearestGenerator returns the in-service generator closest to the
// violating buses: one sharing a zone with a low-voltage bus if any
// exists, otherwise the first in-service generator anywhere in an
// escalated zone.
func nearestGenerator(st *gridsim.GridState, busZone map[int]string, inZone map[string]bool, lowVoltBuses []string) *gridsim.Generator {
	violatingZones := make(map[string]bool, len(lowVoltBuses))
	for _, compID := range lowVoltBuses {
		if busID, ok := gridsim.BusIDFromComponent(compID); ok {
			violatingZones[busZone[busID]] = true
		}
	}

	var fallback *gridsim.Generator
	for i := range st.Generators {
		g := &st.Generators[i]
		if !g.InService || !inZone[busZone[g.Bus]] {
			continue
		}
		if violatingZones[busZone[g.Bus]] {
			return g
		}
		if fallback == nil {
			fallback = g
		}
	}
	return fallback
}

// offlineShunts returns the component ids of every not-in-service
// capacitor bank in an escalated zone, available to bring online for
// reactive support.
func offlineShunts(st *gridsim.GridState, busZone map[int]string, inZone map[string]bool) []string {
	var out []string
	for _, sh := range st.Shunts {
		if !sh.InService && inZone[busZone[sh.Bus]] {
			out = append(out, gridsim.ShuntComponentID(sh.ID))
		}
	}
	return out
}

// loadsToScale returns up to max component ids of loads in an escalated
// zone, largest demand first, as candidates for a 0.8x thermal-relief
// scale-down.
func loadsToScale(st *gridsim.GridState, busZone map[int]string, inZone map[string]bool, max int) []string {
	candidates := make([]gridsim.Load, 0, len(st.Loads))
	for _, ld := range st.Loads {
		if inZone[busZone[ld.Bus]] {
			candidates = append(candidates, ld)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].PMW > candidates[j].PMW })

	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]string, len(candidates))
	for i, ld := range candidates {
		out[i] = gridsim.LoadComponentID(ld.ID)
	}
	return out
}

// publishGridState emits the dashboard-shaped state with a per-zone
// health classification folded in: critical if more than two violations,
// warning if any, healthy otherwise — matching original_source's demo
// zone-health heuristic.
func (l *Loop) publishGridState(byZone map[string]int) {
	if l.bus == nil {
		return
	}

	state := l.sim.GetState()
	for zone, count := range byZone {
		switch {
		case count > 2:
			state.ZoneHealth[zone] = "critical"
		case count > 0:
			state.ZoneHealth[zone] = "warning"
		}
	}

	l.bus.Publish(eventbus.ChannelGridState, state)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
