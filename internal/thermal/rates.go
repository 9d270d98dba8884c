package thermal

import (
	"math"
	"sort"

	"github.com/rcliao/dm21cm/internal/background"
	"github.com/rcliao/dm21cm/internal/deposition"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/physconst"
)

// SourceRates are the injection terms per hydrogen atom per Hubble time on
// the deposition output grid. Xion and Xexc count ionizations and
// excitations; Xheat is heat in eV.
type SourceRates struct {
	Z1    []float64
	Xion  []float64
	Xexc  []float64
	Xheat []float64
}

// Zero returns rates that inject nothing, for a reference history.
func Zero() *SourceRates { return &SourceRates{} }

// InjectionRate is Γ(a) in 1/s: for annihilation σv·ρ_dm(a)/(m c²)/mult,
// for decay the decay rate.
func InjectionRate(bg *background.Background, inj model.InjectionParameters, a float64) float64 {
	if inj.Process == model.Decay {
		return inj.DecayRate
	}
	sigmav := inj.SigmaV * physconst.Cm * physconst.Cm * physconst.Cm
	rhoDM := bg.Params().OmegaDMH2 * physconst.RhoCH2 / (a * a * a)
	return sigmav * rhoDM / (inj.MassGeV * physconst.GeV) / inj.Multiplicity
}

// DeriveSourceRates converts fz into source terms:
//
//	x     = Γ·H⁻¹·(Ω_dm/Ω_b)·m_H c²/(1-Y_p)
//	Xion  = fz[H ion]·x/V_H
//	Xexc  = fz[exc]·x/(0.75 V_H)
//	Xheat = fz[heat]·x/eV
func DeriveSourceRates(bg *background.Background, inj model.InjectionParameters, fz *Fz) *SourceRates {
	p := bg.Params()
	n := len(fz.Z1)
	r := &SourceRates{
		Z1:    append([]float64(nil), fz.Z1...),
		Xion:  make([]float64, n),
		Xexc:  make([]float64, n),
		Xheat: make([]float64, n),
	}
	for i, z1 := range fz.Z1 {
		a := 1 / z1
		hinv := a * a * bg.DtauDa(a)
		x := InjectionRate(bg, inj, a) * hinv * p.OmegaDMH2 / p.OmegaBH2 / (1 - bg.Yp()) *
			physconst.MH * physconst.C * physconst.C
		r.Xion[i] = fz.Values[deposition.HIon][i] * x / physconst.VH
		r.Xexc[i] = fz.Values[deposition.Exc][i] * x / (0.75 * physconst.VH)
		r.Xheat[i] = fz.Values[deposition.Heat][i] * x / physconst.EV
	}
	return r
}

// At interpolates the three terms linearly in ln(1+z). Outside the tabulated
// range nothing is injected.
func (r *SourceRates) At(z1 float64) (xion, xexc, xheat float64) {
	n := len(r.Z1)
	if n == 0 {
		return 0, 0, 0
	}
	lo, hi := r.Z1[0], r.Z1[n-1]
	asc := lo <= hi
	if !asc {
		lo, hi = hi, lo
	}
	if z1 < lo || z1 > hi {
		return 0, 0, 0
	}
	if n == 1 {
		return r.Xion[0], r.Xexc[0], r.Xheat[0]
	}
	// Index of the first node beyond z1 in grid order.
	k := sort.Search(n, func(i int) bool {
		if asc {
			return r.Z1[i] >= z1
		}
		return r.Z1[i] <= z1
	})
	if k == 0 {
		k = 1
	}
	if k >= n {
		k = n - 1
	}
	t := math.Log(z1/r.Z1[k-1]) / math.Log(r.Z1[k]/r.Z1[k-1])
	lerp := func(v []float64) float64 { return v[k-1] + t*(v[k]-v[k-1]) }
	return lerp(r.Xion), lerp(r.Xexc), lerp(r.Xheat)
}
