package gridsim

import (
	"fmt"
	"sync"
	"time"
)

// Simulation is the single owner of the authoritative grid state. Every
// public method takes an internal mutex across the full mutate-and-reflow
// call, which is what makes it safe for the zone engines to call through
// ValidateAction concurrently: the single-writer invariant is enforced here,
// not by a second scheduling layer above it.
type Simulation struct {
	mu           sync.Mutex
	state        *GridState
	snapshots    []*Snapshot
	convergeHook func() bool
}

// New constructs a Simulation from the canonical 30-bus case and runs an
// initial power flow so the state is self-consistent before any caller
// observes it.
func New() *Simulation {
	s := &Simulation{state: NewCanonicalCase()}
	_ = s.runPowerFlowLocked()
	return s
}

// SetConvergenceHook installs a test hook consulted on every power-flow run;
// returning true forces a non-convergence so callers can exercise the
// revert path deterministically. Passing nil restores normal operation.
func (s *Simulation) SetConvergenceHook(hook func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convergeHook = hook
}

// State returns a deep copy of the current grid state; callers may read it
// freely without affecting the simulation.
func (s *Simulation) State() *GridState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// mutate runs f against the live state and reruns the power flow. On
// non-convergence the prior state is restored and ErrNonConvergent is
// returned; callers must never observe a non-converged state.
func (s *Simulation) mutate(f func(*GridState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.state.clone()
	f(s.state)
	if err := s.runPowerFlowLocked(); err != nil {
		s.state = before
		return fmt.Errorf("gridsim: mutation reverted: %w", err)
	}
	return nil
}

// SaveSnapshot pushes an immutable copy of the current state onto the
// snapshot stack and returns its index.
func (s *Simulation) SaveSnapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{TakenAt: time.Now(), state: s.state.clone()}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1
}

// RestoreSnapshot replaces the live state with the snapshot at idx. The
// snapshot remains on the stack and may be restored again.
func (s *Simulation) RestoreSnapshot(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.snapshots) {
		return fmt.Errorf("gridsim: snapshot index %d out of range", idx)
	}
	s.state = s.snapshots[idx].state.clone()
	return nil
}

// popSnapshot removes and returns the most recently pushed snapshot.
func (s *Simulation) popSnapshot() *Snapshot {
	if len(s.snapshots) == 0 {
		return nil
	}
	snap := s.snapshots[len(s.snapshots)-1]
	s.snapshots = s.snapshots[:len(s.snapshots)-1]
	return snap
}

// ValidateAction is the central sandboxing contract: it records the
// currently-active violations by component, snapshots state, runs f against
// the live simulation, measures the post-state violations, restores the
// snapshot unconditionally, and reports whether f would be safe to apply
// for real. Pre-existing violations never block — only a new violation or
// a measurable worsening of an existing one does.
func (s *Simulation) ValidateAction(f func(*Simulation) error) ValidationResult {
	pre := s.checkViolationsLocked()

	s.mu.Lock()
	saved := s.state.clone()
	s.mu.Unlock()

	actionErr := f(s)

	post := s.checkViolationsLocked()

	s.mu.Lock()
	s.state = saved
	s.mu.Unlock()

	preByComponent := indexViolations(pre)
	var newViolations, worsened []Violation
	for _, v := range post {
		old, existed := preByComponent[v.ComponentID]
		if !existed {
			newViolations = append(newViolations, v)
			continue
		}
		if measurablyWorse(old, v) {
			worsened = append(worsened, v)
		}
	}

	result := ValidationResult{
		Safe:          len(newViolations) == 0 && len(worsened) == 0 && actionErr == nil,
		PreViolations: pre,
		NewViolations: newViolations,
		Worsened:      worsened,
		Err:           actionErr,
	}
	return result
}

func indexViolations(vs []Violation) map[string]Violation {
	out := make(map[string]Violation, len(vs))
	for _, v := range vs {
		out[v.ComponentID] = v
	}
	return out
}

// measurablyWorse implements the 5%-of-limit-deviation rule: the deviation
// from the nearest limit must have grown by more than 0.05 on the affected
// component for a pre-existing violation to count as worsened.
func measurablyWorse(old, updated Violation) bool {
	oldDev := deviationFromLimit(old)
	newDev := deviationFromLimit(updated)
	return newDev-oldDev > 0.05
}

// deviationFromLimit returns a 1.0-scaled measure of how far value is past
// its limit, comparable across voltage (p.u.) and thermal/frequency kinds.
func deviationFromLimit(v Violation) float64 {
	switch v.Kind {
	case ViolationVoltageLow, ViolationVoltageHigh:
		return abs(v.Value - 1.0)
	case ViolationThermal:
		return abs(v.Value-100.0) / 100.0
	case ViolationFrequency:
		return abs(v.Value-NominalFreqHz) / NominalFreqHz
	default:
		return 0
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
