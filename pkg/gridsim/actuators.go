package gridsim

import (
	"fmt"
	"math"
)

// SetLineStatus puts line in or out of service and reruns the power flow.
// On non-convergence the line's prior status is restored automatically by
// mutate and ErrNonConvergent is returned.
func (s *Simulation) SetLineStatus(line int, inService bool) error {
	return s.mutate(func(st *GridState) {
		for i := range st.Lines {
			if st.Lines[i].ID == line {
				st.Lines[i].InService = inService
				return
			}
		}
	})
}

// SetGeneratorOutput sets a generator's active power setpoint, clamped to
// its declared limits, and reruns the power flow. The slack generator (the
// one on bus 0) is re-dispatched by every solve, so a setpoint written to
// it is replaced by the solver's balancing value.
func (s *Simulation) SetGeneratorOutput(gen int, pMW float64) error {
	found := false
	err := s.mutate(func(st *GridState) {
		for i := range st.Generators {
			if st.Generators[i].ID == gen {
				g := &st.Generators[i]
				g.PMW = math.Max(g.PMinMW, math.Min(g.PMaxMW, pMW))
				found = true
				return
			}
		}
	})
	if !found && err == nil {
		return fmt.Errorf("gridsim: unknown generator %d", gen)
	}
	return err
}

// ScaleLoad multiplies a load's active and reactive power by factor and
// reruns the power flow.
func (s *Simulation) ScaleLoad(load int, factor float64) error {
	found := false
	err := s.mutate(func(st *GridState) {
		for i := range st.Loads {
			if st.Loads[i].ID == load {
				st.Loads[i].PMW *= factor
				st.Loads[i].QMVAr *= factor
				found = true
				return
			}
		}
	})
	if !found && err == nil {
		return fmt.Errorf("gridsim: unknown load %d", load)
	}
	return err
}

// SetShuntStatus activates or deactivates a capacitor bank and reruns the
// power flow.
func (s *Simulation) SetShuntStatus(shunt int, inService bool) error {
	found := false
	err := s.mutate(func(st *GridState) {
		for i := range st.Shunts {
			if st.Shunts[i].ID == shunt {
				st.Shunts[i].InService = inService
				found = true
				return
			}
		}
	})
	if !found && err == nil {
		return fmt.Errorf("gridsim: unknown shunt %d", shunt)
	}
	return err
}

// InjectLoadChange adds deltaMW/deltaMVAr to the load at bus (perturbation
// helper used by scenario injection, not a normal actuator path). If no
// load exists at bus one is synthesized.
func (s *Simulation) InjectLoadChange(bus int, deltaMW, deltaMVAr float64) error {
	return s.mutate(func(st *GridState) {
		for i := range st.Loads {
			if st.Loads[i].Bus == bus {
				st.Loads[i].PMW += deltaMW
				st.Loads[i].QMVAr += deltaMVAr
				return
			}
		}
		st.Loads = append(st.Loads, Load{
			ID:    nextLoadID(st),
			Bus:   bus,
			PMW:   deltaMW,
			QMVAr: deltaMVAr,
		})
	})
}

// TripLine forces line out of service, modeling a fault, and reruns the
// power flow.
func (s *Simulation) TripLine(line int) error {
	return s.SetLineStatus(line, false)
}

func nextLoadID(st *GridState) int {
	max := -1
	for _, l := range st.Loads {
		if l.ID > max {
			max = l.ID
		}
	}
	return max + 1
}
