package health

import (
	"math"
)

// ciHalfWidth is the 95% confidence half-width around the overall score:
// wider when data quality is poor, clamped to [4, 20] points.
func ciHalfWidth(quality float64) float64 {
	return clamp(4, 20, 20*(1-quality))
}

// annotate adds the adaptive-mode outputs to a baseline state: the
// confidence interval and per-component drift flags. The baseline numbers
// are never touched.
func (e *Engine) annotate(tenantID string, state *State) {
	half := ciHalfWidth(state.Quality)
	state.CI = &Interval{
		Low:  clamp(0, 100, state.Overall-half),
		High: clamp(0, 100, state.Overall+half),
	}

	state.Drift = make(map[string]bool)
	for name, score := range map[string]*float64{
		"revenue":    state.Revenue,
		"operations": state.Operations,
		"customer":   state.Customer,
	} {
		if score == nil {
			continue
		}
		key := tenantID + "/" + name
		det := e.detectors[key]
		if det == nil {
			det = newDriftDetector()
			e.detectors[key] = det
		}
		state.Drift[name] = det.add(*score)
	}
}

// driftDetector is a small ADWIN-style change detector: it keeps a sliding
// window of observations and reports drift when any split point shows two
// sub-windows whose means differ by more than the Hoeffding bound. On
// detection the older sub-window is dropped so the detector re-anchors on
// the new regime.
type driftDetector struct {
	window []float64
}

const (
	driftDelta     = 0.05
	driftMaxWindow = 200
	driftMinSplit  = 5
	driftScale     = 100.0 // observations live in [0, 100]
)

func newDriftDetector() *driftDetector {
	return &driftDetector{}
}

func (d *driftDetector) add(value float64) bool {
	d.window = append(d.window, value)
	if len(d.window) > driftMaxWindow {
		d.window = d.window[1:]
	}
	if len(d.window) < 2*driftMinSplit {
		return false
	}

	total := 0.0
	for _, v := range d.window {
		total += v
	}

	// Walk split points oldest-to-newest; left is the older sub-window.
	leftSum := 0.0
	for i, v := range d.window[:len(d.window)-driftMinSplit] {
		leftSum += v
		n0 := float64(i + 1)
		if n0 < driftMinSplit {
			continue
		}
		n1 := float64(len(d.window)) - n0

		mean0 := leftSum / n0
		mean1 := (total - leftSum) / n1

		m := 1 / (1/n0 + 1/n1) // harmonic mean of the sub-window sizes
		epsilon := driftScale * math.Sqrt(1/(2*m)*math.Log(4/driftDelta))

		if math.Abs(mean0-mean1) > epsilon {
			d.window = append([]float64(nil), d.window[i+1:]...)
			return true
		}
	}
	return false
}
