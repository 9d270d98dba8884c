// Package recomb is the default recombination solver: a hydrogen-only
// three-level atom with energy injection, integrated in ln(1+z).
package recomb

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/rcliao/dm21cm/internal/physconst"
	"github.com/rcliao/dm21cm/internal/simerr"
	"github.com/rcliao/dm21cm/internal/thermal"
)

var errNonFinite = errors.New("non-finite or non-positive state")

// Defaults of the integration grid.
const (
	DefaultZStart = 1700.0
	DefaultSteps  = 8000
)

// Peebles integrates the Peebles equation for x_e together with the matter
// temperature. The free-electron and temperature equations are both stepped
// implicitly, so the tight Compton coupling at high redshift stays stable.
type Peebles struct {
	ZStart float64 // redshift at which Saha equilibrium is assumed
	ZEnd   float64
	Steps  int
	Logger *slog.Logger
}

// NewPeebles returns a solver with the default grid.
func NewPeebles() *Peebles {
	return &Peebles{ZStart: DefaultZStart, Steps: DefaultSteps}
}

// caseB is the Péquignot case-B recombination coefficient with the RECFAST
// fudge factor, in m³/s.
func caseB(tK float64) float64 {
	t := tK / 1e4
	return 1.14 * 1e-19 * 4.309 * math.Pow(t, -0.6166) / (1 + 0.6703*math.Pow(t, 0.5300))
}

// thermalFactor is (m_e k T / 2πħ²)^(3/2) in 1/m³.
func thermalFactor(kT float64) float64 {
	return math.Pow(physconst.Me*kT/(2*math.Pi*physconst.Hbar*physconst.Hbar), 1.5)
}

// sahaXe solves x²/(1-x) = S/n_H for the hydrogen ionized fraction.
func sahaXe(kT, nH float64) float64 {
	r := thermalFactor(kT) * math.Exp(-physconst.VH/kT) / nH
	if r > 1e12 {
		return 1
	}
	return 2 / (1 + math.Sqrt(1+4/r))
}

// Solve integrates from ZStart down to ZEnd.
func (p *Peebles) Solve(ctx context.Context, in thermal.RecInput) (thermal.History, error) {
	zStart, steps := p.ZStart, p.Steps
	if zStart <= 0 {
		zStart = DefaultZStart
	}
	if steps <= 0 {
		steps = DefaultSteps
	}
	if p.ZEnd < 0 || p.ZEnd >= zStart {
		return nil, simerr.Configf("recombination grid: end redshift %g must lie in [0, %g)", p.ZEnd, zStart)
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rates := in.Rates
	if rates == nil {
		rates = thermal.Zero()
	}

	bg := in.Background
	params := bg.Params()
	yp := bg.Yp()
	nH0 := (1 - yp) * params.OmegaBH2 * physconst.RhoCH2 / (physconst.MH * physconst.C * physconst.C)
	fHe := yp / (1 - yp) * physconst.MH / physconst.MHe
	// Compton rate prefactor: 8σ_T u_γ/(3 m_e c) with u_γ = π²/15 (kT)⁴/(ħc)³.
	hc3 := math.Pow(physconst.Hbar*physconst.C, 3)
	comptonPre := 8 * physconst.SigmaT / (3 * physconst.Me * physconst.C) * math.Pi * math.Pi / 15 / hc3
	lyA3 := math.Pow(physconst.LymanAlphaWavelength, 3)

	u0, u1 := math.Log1p(zStart), math.Log1p(p.ZEnd)
	du := (u0 - u1) / float64(steps)

	h := &History{
		lnZ1: make([]float64, steps+1),
		xe:   make([]float64, steps+1),
		tm:   make([]float64, steps+1),
	}

	z1 := math.Exp(u0)
	trK := physconst.TCMBK * z1
	xe := sahaXe(physconst.KB*trK, nH0*z1*z1*z1)
	tm := trK
	h.lnZ1[0], h.xe[0], h.tm[0] = u0, xe, tm

	for n := 1; n <= steps; n++ {
		if n%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		u := u0 - float64(n)*du
		z1 = math.Exp(u)
		a := 1 / z1
		hub := bg.Hubble(a)
		nH := nH0 * z1 * z1 * z1
		trK = physconst.TCMBK * z1
		kTr := physconst.KB * trK

		alpha := caseB(tm)
		beta := caseB(trK) * thermalFactor(kTr) * math.Exp(-0.25*physconst.VH/kTr)
		k := lyA3 / (8 * math.Pi * hub)
		nHI := nH * math.Max(1-xe, 0)
		c := (1 + k*physconst.Lambda2s1s*nHI) / (1 + k*(physconst.Lambda2s1s+beta)*nHI)

		xion, xexc, xheat := rates.At(z1)

		// dx/ds = -A x² + B (1-x) + S with s = -ln(1+z), stepped implicitly.
		A := c * alpha * nH / hub
		B := c * beta * math.Exp(-0.75*physconst.VH/kTr) / hub
		S := xion + (1-c)*xexc
		rhs := xe + du*(B+S)
		lin := 1 + du*B
		xNew := 2 * rhs / (lin + math.Sqrt(lin*lin+4*A*du*rhs))
		xNew = math.Min(math.Max(xNew, 0), 1)

		// dT/ds = -2T + κ (T_r - T) + Q, implicit in T.
		kappa := comptonPre * math.Pow(kTr, 4) * xNew / (1 + fHe + xNew) / hub
		q := 2.0 / 3.0 * xheat * physconst.EV / (physconst.KB * (1 + fHe + xNew))
		tmNew := (tm + du*(kappa*trK+q)) / (1 + du*(2+kappa))

		if math.IsNaN(xNew) || math.IsNaN(tmNew) || tmNew <= 0 {
			return nil, simerr.Numerical("peebles", map[string]float64{
				"z": z1 - 1, "xe": xe, "tm": tm,
			}, errNonFinite)
		}
		xe, tm = xNew, tmNew
		h.lnZ1[n], h.xe[n], h.tm[n] = u, xe, tm
	}

	logger.Debug("recombination history solved",
		slog.Float64("z_start", zStart),
		slog.Float64("z_end", p.ZEnd),
		slog.Int("steps", steps),
		slog.Float64("xe_final", xe),
		slog.Float64("tm_final_k", tm),
	)
	return h, nil
}

// History is the tabulated solution. Before the start of integration the gas
// is taken as fully ionized and at the radiation temperature; after the end
// the last state is held.
type History struct {
	lnZ1 []float64 // decreasing
	xe   []float64
	tm   []float64
}

// Xe is the free-electron fraction at scale factor a.
func (h *History) Xe(a float64) float64 {
	if -math.Log(a) > h.lnZ1[0] {
		return 1
	}
	return h.at(h.xe, -math.Log(a))
}

// Tm is the matter temperature in kelvin at scale factor a.
func (h *History) Tm(a float64) float64 {
	if -math.Log(a) > h.lnZ1[0] {
		return physconst.TCMBK / a
	}
	return h.at(h.tm, -math.Log(a))
}

func (h *History) at(v []float64, u float64) float64 {
	n := len(h.lnZ1)
	k := sort.Search(n, func(i int) bool { return h.lnZ1[i] <= u })
	switch {
	case k == 0:
		return v[0]
	case k >= n:
		return v[n-1]
	}
	t := (u - h.lnZ1[k-1]) / (h.lnZ1[k] - h.lnZ1[k-1])
	return v[k-1] + t*(v[k]-v[k-1])
}

// Sample tabulates h at n points log-spaced in 1+z from z1Start down to
// z1End, as rows of (1+z, x_e, T_m).
func Sample(h thermal.History, z1Start, z1End float64, n int) [][3]float64 {
	if n < 2 {
		n = 2
	}
	out := make([][3]float64, n)
	dl := math.Log(z1End/z1Start) / float64(n-1)
	for i := range out {
		z1 := z1Start * math.Exp(dl*float64(i))
		out[i] = [3]float64{z1, h.Xe(1 / z1), h.Tm(1 / z1)}
	}
	return out
}
