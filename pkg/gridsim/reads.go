package gridsim

import "fmt"

// GetBusVoltages returns every bus's per-unit voltage magnitude, keyed by
// bus id.
func (s *Simulation) GetBusVoltages() map[int]float64 {
	st := s.State()
	out := make(map[int]float64, len(st.Buses))
	for _, b := range st.Buses {
		out[b.ID] = b.VmPU
	}
	return out
}

// GetBusVoltage returns one bus's per-unit voltage.
func (s *Simulation) GetBusVoltage(bus int) (float64, error) {
	st := s.State()
	for _, b := range st.Buses {
		if b.ID == bus {
			return b.VmPU, nil
		}
	}
	return 0, fmt.Errorf("gridsim: unknown bus %d", bus)
}

// GetLineLoadings returns every line's loading percent, keyed by line id;
// a line out of service reads 0.
func (s *Simulation) GetLineLoadings() map[int]float64 {
	st := s.State()
	out := make(map[int]float64, len(st.Lines))
	for _, l := range st.Lines {
		out[l.ID] = l.LoadingPercent
	}
	return out
}

// GetLineCurrent returns one line's current in kilo-amps.
func (s *Simulation) GetLineCurrent(line int) (float64, error) {
	st := s.State()
	for _, l := range st.Lines {
		if l.ID == line {
			return l.CurrentKA, nil
		}
	}
	return 0, fmt.Errorf("gridsim: unknown line %d", line)
}

// GetTransformerLoadings returns every transformer's loading percent, keyed
// by transformer id.
func (s *Simulation) GetTransformerLoadings() map[int]float64 {
	st := s.State()
	out := make(map[int]float64, len(st.Transformers))
	for _, tf := range st.Transformers {
		out[tf.ID] = tf.LoadingPercent
	}
	return out
}

// GetTransformerTemperature returns one transformer's inferred winding
// temperature in Celsius.
func (s *Simulation) GetTransformerTemperature(xf int) (float64, error) {
	st := s.State()
	for _, tf := range st.Transformers {
		if tf.ID == xf {
			return tf.TempC, nil
		}
	}
	return 0, fmt.Errorf("gridsim: unknown transformer %d", xf)
}

// GetFrequency returns the system-wide frequency in Hz.
func (s *Simulation) GetFrequency() float64 {
	st := s.State()
	return st.FrequencyHz
}

// GetTotalGeneration returns the sum of in-service generator active power.
func (s *Simulation) GetTotalGeneration() float64 {
	st := s.State()
	total := 0.0
	for _, g := range st.Generators {
		if g.InService {
			total += g.PMW
		}
	}
	return total
}

// GetTotalLoad returns the sum of load active power.
func (s *Simulation) GetTotalLoad() float64 {
	st := s.State()
	total := 0.0
	for _, l := range st.Loads {
		total += l.PMW
	}
	return total
}

// GetTotalLosses returns generation minus load, the stand-in solver's loss
// estimate.
func (s *Simulation) GetTotalLosses() float64 {
	return s.GetTotalGeneration() - s.GetTotalLoad()
}
