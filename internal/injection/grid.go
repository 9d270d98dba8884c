// Package injection builds the per-event energy spectrum of the particles a
// dark-matter annihilation or decay injects, binned on the deposition
// energy grid.
package injection

import (
	"math"

	"github.com/rcliao/dm21cm/internal/simerr"
)

// Grid is a logarithmic energy grid of bin centres (eV).
type Grid struct {
	Energy []float64
	DlnE   float64
}

// NewGrid checks that energy is log-spaced and records its bin width.
func NewGrid(energy []float64) (Grid, error) {
	if len(energy) < 2 {
		return Grid{}, simerr.Dataf("energy grid needs at least 2 bins, got %d", len(energy))
	}
	dlnE := math.Log(energy[1] / energy[0])
	if !(dlnE > 0) {
		return Grid{}, simerr.Dataf("energy grid not increasing")
	}
	for i := 2; i < len(energy); i++ {
		d := math.Log(energy[i] / energy[i-1])
		if math.Abs(d-dlnE) > 1e-6*dlnE {
			return Grid{}, simerr.Dataf("energy grid not log-spaced at bin %d", i)
		}
	}
	return Grid{Energy: energy, DlnE: dlnE}, nil
}

// EMin is the lower edge of the first bin.
func (g Grid) EMin() float64 { return g.Energy[0] * math.Exp(-0.5*g.DlnE) }

// EMax is the upper edge of the last bin.
func (g Grid) EMax() float64 { return g.Energy[len(g.Energy)-1] * math.Exp(0.5*g.DlnE) }

// Bin returns the index of the bin containing e, or -1 outside the grid.
func (g Grid) Bin(e float64) int {
	if !(e > 0) {
		return -1
	}
	j := int(math.Round(math.Log(e/g.Energy[0]) / g.DlnE))
	if j < 0 || j >= len(g.Energy) || e < g.EMin() || e >= g.EMax() {
		return -1
	}
	return j
}
