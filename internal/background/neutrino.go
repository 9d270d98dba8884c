package background

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/interp"

	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/physconst"
	"github.com/rcliao/dm21cm/internal/simerr"
)

// NeutrinoMasses are the three mass eigenvalues in eV.
type NeutrinoMasses [3]float64

// Sum returns m1+m2+m3.
func (m NeutrinoMasses) Sum() float64 { return m[0] + m[1] + m[2] }

// Range of λ = a·m/T_ν covered by the energy-density table.
const (
	lambdaMin   = 1e-3
	lambdaMax   = 1e3
	lambdaNodes = 1000
)

// rhoTable interpolates ln(ρ_massive/ρ_massless) against ln λ.
var rhoTable = sync.OnceValues(func() (interp.Predictor, error) {
	lnl := numeric.LinSpace(math.Log(lambdaMin), math.Log(lambdaMax), lambdaNodes)
	lnrho := make([]float64, lambdaNodes)
	for i, l := range lnl {
		lam := math.Exp(l)
		v, err := numeric.Integrate(func(x float64) float64 {
			return x * x * math.Sqrt(x*x+lam*lam) / (math.Exp(x) + 1)
		}, 0, 100, 1e-10)
		if err != nil {
			return nil, err
		}
		lnrho[i] = math.Log(v * physconst.NuEnergy)
	}
	return numeric.Fit(numeric.Monotone, lnl, lnrho)
})

// rhoRatio is the energy density of one massive neutrino species relative to
// a massless one, as a function of λ = a·m/T_ν.
func rhoRatio(tab interp.Predictor, lam float64) float64 {
	switch {
	case lam > lambdaMax:
		return lam * physconst.NuNumber
	case lam < lambdaMin:
		return 1
	}
	return math.Exp(tab.Predict(math.Log(lam)))
}

// SolveMasses distributes sum (eV) over the three eigenstates for the given
// ordering using the measured squared-mass splittings. A zero sum gives
// massless neutrinos in every ordering.
func SolveMasses(h model.Hierarchy, sum float64) (NeutrinoMasses, error) {
	var m NeutrinoMasses
	if !model.ValidHierarchies[h] {
		return m, simerr.Configf("unknown neutrino hierarchy %q", h)
	}
	if sum < 0 {
		return m, simerr.Configf("negative neutrino mass sum %g eV", sum)
	}
	if sum == 0 {
		return m, nil
	}
	if h == model.Degenerate {
		return NeutrinoMasses{sum / 3, sum / 3, sum / 3}, nil
	}
	ml, err := numeric.Brent(func(x float64) float64 {
		return massesFromLightest(h, x).Sum() - sum
	}, 0, sum, 1e-15, 200)
	if err != nil {
		if errors.Is(err, numeric.ErrNotBracketed) {
			return m, simerr.Configf("%s hierarchy cannot reach sum of masses %g eV (minimum %.4g eV)",
				h, sum, massesFromLightest(h, 0).Sum())
		}
		return m, err
	}
	return massesFromLightest(h, ml), nil
}

func massesFromLightest(h model.Hierarchy, ml float64) NeutrinoMasses {
	ml2 := ml * ml
	switch h {
	case model.Inverted:
		return NeutrinoMasses{
			math.Sqrt(ml2 + physconst.M2Nu32 - physconst.M2Nu21),
			math.Sqrt(ml2 + physconst.M2Nu32),
			ml,
		}
	case model.Degenerate:
		return NeutrinoMasses{ml, ml, ml}
	}
	return NeutrinoMasses{
		ml,
		math.Sqrt(ml2 + physconst.M2Nu21),
		math.Sqrt(ml2 + physconst.M2Nu21 + physconst.M2Nu32),
	}
}
