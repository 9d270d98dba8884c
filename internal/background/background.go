// Package background models the homogeneous expansion of a flat universe
// with photons, massive neutrinos, matter and a cosmological constant.
//
// A Background is immutable once built and safe for concurrent use.
package background

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/rcliao/dm21cm/internal/bbn"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/physconst"
)

// QuadTolerance is the relative tolerance of the time integrals.
const QuadTolerance = 1e-8

// Background is the expansion state for one parameter set.
type Background struct {
	params model.CosmologicalParameters
	masses NeutrinoMasses
	ogh2   float64 // photons
	onuh2  float64 // N_eff massless neutrinos
	yp     float64
	rho    interp.Predictor
}

// Option configures New.
type Option func(*settings)

type settings struct {
	helium bbn.Lookup
	logger *slog.Logger
}

// WithHelium replaces the embedded helium-fraction table.
func WithHelium(l bbn.Lookup) Option {
	return func(s *settings) { s.helium = l }
}

// WithLogger sets the logger used while building the background.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// PhotonDensity returns Ω_γ h² for the CMB temperature.
func PhotonDensity() float64 {
	return math.Pi * math.Pi / 15 * math.Pow(physconst.TCMB, 4) /
		math.Pow(physconst.C*physconst.Hbar, 3) / physconst.RhoCH2
}

// New validates p, solves the neutrino mass spectrum and looks up Y_p.
func New(p model.CosmologicalParameters, opts ...Option) (*Background, error) {
	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	masses, err := SolveMasses(p.Hierarchy, p.SumMNu)
	if err != nil {
		return nil, err
	}
	rho, err := rhoTable()
	if err != nil {
		return nil, err
	}
	if s.helium == nil {
		s.helium = bbn.Default()
	}

	ogh2 := PhotonDensity()
	b := &Background{
		params: p,
		masses: masses,
		ogh2:   ogh2,
		onuh2:  ogh2 * 7.0 / 8.0 * math.Pow(physconst.TCNuB/physconst.TCMB, 4) * p.NEff,
		yp:     s.helium.Yp(p.OmegaBH2, p.NEff-physconst.NNuStd),
		rho:    rho,
	}
	s.logger.Debug("background ready",
		slog.Float64("omega_g_h2", b.ogh2),
		slog.Float64("omega_nu_h2_massless", b.onuh2),
		slog.String("hierarchy", string(p.Hierarchy)),
		slog.Any("masses_ev", masses),
		slog.Float64("yp", b.yp),
		slog.Float64("h", b.LittleH()),
	)
	return b, nil
}

// Params returns the parameters the background was built from.
func (b *Background) Params() model.CosmologicalParameters { return b.params }

// Masses returns the neutrino mass eigenvalues in eV.
func (b *Background) Masses() NeutrinoMasses { return b.masses }

// Yp is the primordial helium mass fraction.
func (b *Background) Yp() float64 { return b.yp }

// OmegaGammaH2 is the photon density Ω_γ h².
func (b *Background) OmegaGammaH2() float64 { return b.ogh2 }

// OmegaNuH2Massless is the density of N_eff massless neutrinos.
func (b *Background) OmegaNuH2Massless() float64 { return b.onuh2 }

// neutrinoRho averages the massive-to-massless density ratio over the
// three eigenstates.
func (b *Background) neutrinoRho(a float64) float64 {
	var r float64
	for _, m := range b.masses {
		r += rhoRatio(b.rho, a*m*physconst.EV/physconst.TCNuB)
	}
	return r / float64(len(b.masses))
}

// DtauDa is dτ/da = 1/(a² H) in seconds for conformal time τ.
func (b *Background) DtauDa(a float64) float64 {
	p := b.params
	e2 := b.ogh2 + b.onuh2*b.neutrinoRho(a) + (p.OmegaBH2+p.OmegaDMH2)*a + p.OmegaDEH2*a*a*a*a
	return 1 / math.Sqrt(e2) / physconst.BigH
}

// Hubble returns H(a) in 1/s.
func (b *Background) Hubble(a float64) float64 {
	return 1 / (a * a * b.DtauDa(a))
}

// LittleH is the dimensionless Hubble constant h = H0/(100 km/s/Mpc).
func (b *Background) LittleH() float64 {
	return 1 / b.DtauDa(1) / physconst.BigH
}

// HubbleConstant returns H0 in km/s/Mpc.
func (b *Background) HubbleConstant() float64 {
	return 100 * b.LittleH()
}

// ConformalTimeInterval integrates dτ/da from a1 to a2 (seconds).
func (b *Background) ConformalTimeInterval(a1, a2 float64) (float64, error) {
	return numeric.Integrate(b.DtauDa, a1, a2, QuadTolerance)
}

// CosmicTime is the proper time since the big bang at scale factor a (seconds).
func (b *Background) CosmicTime(a float64) (float64, error) {
	return numeric.Integrate(func(x float64) float64 { return x * b.DtauDa(x) }, 0, a, QuadTolerance)
}

// ScaleFactorEquality is the scale factor of matter–radiation equality with
// massless neutrinos.
func (b *Background) ScaleFactorEquality() float64 {
	return (b.ogh2 + b.onuh2) / (b.params.OmegaDMH2 + b.params.OmegaBH2)
}

// EarlyCosmicTime is the analytic cosmic time of a matter plus radiation
// universe, valid well before neutrinos turn non-relativistic.
func (b *Background) EarlyCosmicTime(a float64) float64 {
	aeq := b.ScaleFactorEquality()
	y := a / aeq
	t := 2.0 / 3.0 * (2 + (y-2)*math.Sqrt(1+y))
	return aeq * aeq * t / math.Sqrt(b.ogh2+b.onuh2) / physconst.BigH
}

// SoundHorizonIntegrand is c_s·dτ/da for the baryon–photon fluid (metres).
func (b *Background) SoundHorizonIntegrand(a float64) float64 {
	cs := physconst.C / math.Sqrt(3*(1+0.75*a*b.params.OmegaBH2/b.ogh2))
	return cs * b.DtauDa(a)
}

// SoundHorizon is the comoving sound horizon at scale factor a (metres).
func (b *Background) SoundHorizon(a float64) (float64, error) {
	return numeric.Integrate(b.SoundHorizonIntegrand, 0, a, QuadTolerance)
}

// NeutrinoNRRedshifts returns 1+z at which each eigenstate has m = T_ν.
// Massless states report zero.
func (b *Background) NeutrinoNRRedshifts() [3]float64 {
	var z [3]float64
	for i, m := range b.masses {
		z[i] = m * physconst.EV / physconst.TCNuB
	}
	return z
}
