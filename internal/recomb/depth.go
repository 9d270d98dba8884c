package recomb

import (
	"gonum.org/v1/gonum/integrate"

	"github.com/rcliao/dm21cm/internal/background"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/physconst"
	"github.com/rcliao/dm21cm/internal/simerr"
	"github.com/rcliao/dm21cm/internal/thermal"
)

// Depth is the cumulative Thomson optical depth from today back to redshift
// z, together with the drag depth that weights scattering by the baryon
// loading 1/R of the photon fluid.
type Depth struct {
	Z    []float64
	Tau  []float64
	Drag []float64
}

// DepthZMax is the highest redshift OpticalDepth tabulates.
const DepthZMax = 2000.0

// OpticalDepth tabulates τ(z) and τ_drag(z) on n points from 0 to DepthZMax:
//
//	dτ/dz = x_e n_H σ_T c (1+z)² / H
//	dτ_drag/dz = dτ/dz / R,  R = 3ρ_b/4ρ_γ
func OpticalDepth(bg *background.Background, h thermal.History, n int) *Depth {
	if n < 2 {
		n = 2
	}
	p := bg.Params()
	nH0 := (1 - bg.Yp()) * p.OmegaBH2 * physconst.RhoCH2 / (physconst.MH * physconst.C * physconst.C)
	zs := numeric.LinSpace(0, DepthZMax, n)
	dtau := make([]float64, n)
	ddrag := make([]float64, n)
	for i, z := range zs {
		a := 1 / (1 + z)
		dtau[i] = h.Xe(a) * nH0 * physconst.SigmaT * physconst.C * (1 + z) * (1 + z) / bg.Hubble(a)
		r := 0.75 * p.OmegaBH2 / bg.OmegaGammaH2() * a
		ddrag[i] = dtau[i] / r
	}
	d := &Depth{Z: zs, Tau: make([]float64, n), Drag: make([]float64, n)}
	for i := 1; i < n; i++ {
		d.Tau[i] = d.Tau[i-1] + integrate.Trapezoidal(zs[i-1:i+1], dtau[i-1:i+1])
		d.Drag[i] = d.Drag[i-1] + integrate.Trapezoidal(zs[i-1:i+1], ddrag[i-1:i+1])
	}
	return d
}

// LastScattering is the redshift at which τ reaches one.
func (d *Depth) LastScattering() (float64, error) { return crossing(d.Z, d.Tau, "tau") }

// DragEpoch is the redshift at which τ_drag reaches one.
func (d *Depth) DragEpoch() (float64, error) { return crossing(d.Z, d.Drag, "tau_drag") }

// At is the optical depth to redshift z, without reionization.
func (d *Depth) At(z float64) (float64, error) {
	if z < 0 || z > d.Z[len(d.Z)-1] {
		return 0, simerr.Domainf("optical depth: redshift %g outside [0, %g]", z, d.Z[len(d.Z)-1])
	}
	for i := 1; i < len(d.Z); i++ {
		if z <= d.Z[i] {
			t := (z - d.Z[i-1]) / (d.Z[i] - d.Z[i-1])
			return d.Tau[i-1] + t*(d.Tau[i]-d.Tau[i-1]), nil
		}
	}
	return d.Tau[len(d.Tau)-1], nil
}

func crossing(z, tau []float64, name string) (float64, error) {
	for i := 1; i < len(z); i++ {
		if tau[i] >= 1 {
			t := (1 - tau[i-1]) / (tau[i] - tau[i-1])
			return z[i-1] + t*(z[i]-z[i-1]), nil
		}
	}
	return 0, simerr.Domainf("%s stays below one up to z = %g", name, z[len(z)-1])
}
