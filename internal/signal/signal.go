// Package signal computes the 21-cm spin temperature and brightness
// temperature along a solved thermal history.
package signal

import (
	"context"
	"math"
	"strings"

	"github.com/rcliao/dm21cm/internal/background"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/physconst"
	"github.com/rcliao/dm21cm/internal/simerr"
	"github.com/rcliao/dm21cm/internal/thermal"
)

// Coupling selects how the spin temperature follows the gas.
type Coupling int

const (
	// CouplingFull sets T_s = T_m, i.e. Lyman-α coupling saturated. The
	// Wouthuysen–Field term itself is not modelled.
	CouplingFull Coupling = iota
	// CouplingCollisional uses collisions alone:
	// T_s⁻¹ = (T_r⁻¹ + x_c T_m⁻¹)/(1 + x_c).
	CouplingCollisional
)

func (c Coupling) String() string {
	if c == CouplingCollisional {
		return "collisional"
	}
	return "full"
}

// ParseCoupling accepts "full" or "collisional".
func ParseCoupling(s string) (Coupling, error) {
	switch strings.ToLower(s) {
	case "", "full":
		return CouplingFull, nil
	case "collisional":
		return CouplingCollisional, nil
	}
	return 0, simerr.Configf("unknown spin-temperature coupling %q", s)
}

// Config is the redshift grid of a trace.
type Config struct {
	ZStart   float64
	ZEnd     float64
	Steps    int
	Coupling Coupling
}

// DefaultConfig runs from z = 1000 to z = 10.
func DefaultConfig() Config {
	return Config{ZStart: 1000, ZEnd: 10, Steps: 500, Coupling: CouplingFull}
}

func (c Config) validate() error {
	if c.Steps < 2 {
		return simerr.Configf("signal grid needs at least 2 points, got %d", c.Steps)
	}
	if !(c.ZEnd >= 0 && c.ZStart > c.ZEnd) {
		return simerr.Configf("signal grid must run from high to low redshift, got %g to %g", c.ZStart, c.ZEnd)
	}
	return nil
}

// Trace is the 21-cm state on the grid, ordered from high to low redshift.
type Trace struct {
	Points   []model.TracePoint
	Coupling Coupling
}

// Compute walks the grid from cfg.ZStart to cfg.ZEnd, log-spaced in 1+z,
// reading x_e and T_m from h.
func Compute(ctx context.Context, bg *background.Background, h thermal.History, rates *Rates, cfg Config) (*Trace, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if rates == nil {
		rates = DefaultRates()
	}
	p := bg.Params()
	nH0 := (1 - bg.Yp()) * p.OmegaBH2 * physconst.RhoCH2 / (physconst.MH * physconst.C * physconst.C)
	tauPre := 3 * math.Pow(physconst.C, 3) * physconst.Hbar * physconst.A10 /
		(16 * physconst.KB * physconst.F21cm * physconst.F21cm)
	cm3 := physconst.Cm * physconst.Cm * physconst.Cm

	z1Start, z1End := 1+cfg.ZStart, 1+cfg.ZEnd
	dl := math.Log(z1End/z1Start) / float64(cfg.Steps-1)
	tr := &Trace{Points: make([]model.TracePoint, cfg.Steps), Coupling: cfg.Coupling}
	for i := range tr.Points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		z1 := z1Start * math.Exp(dl*float64(i))
		if i == cfg.Steps-1 {
			z1 = z1End
		}
		a := 1 / z1
		xe := h.Xe(a)
		tm := h.Tm(a)
		trad := physconst.TCMBK * z1
		nH := nH0 * z1 * z1 * z1
		nHI := nH * math.Max(1-xe, 0)
		ne := nH * xe

		xc := physconst.TStar21cm / (physconst.A10 * trad) *
			(rates.HH.At(tm)*nHI + rates.EH.At(tm)*ne) * cm3

		ts := tm
		if cfg.Coupling == CouplingCollisional {
			ts = (1 + xc) / (1/trad + xc/tm)
		}
		tau := tauPre * nHI / (ts * bg.Hubble(a))
		tr.Points[i] = model.TracePoint{
			Z1:      z1,
			Xe:      xe,
			Tm:      tm,
			Tr:      trad,
			Ts:      ts,
			Xc:      xc,
			Tau:     tau,
			DeltaTb: (ts - trad) / z1 * tau,
		}
	}
	return tr, nil
}

// At interpolates δT_b (kelvin) linearly in 1+z at redshift z. Targets
// outside the computed grid are an OutOfDomainError.
func (t *Trace) At(z float64) (float64, error) {
	return t.interp(z, func(p model.TracePoint) float64 { return p.DeltaTb })
}

// SpinTemperatureAt interpolates T_s at redshift z.
func (t *Trace) SpinTemperatureAt(z float64) (float64, error) {
	return t.interp(z, func(p model.TracePoint) float64 { return p.Ts })
}

func (t *Trace) interp(z float64, field func(model.TracePoint) float64) (float64, error) {
	n := len(t.Points)
	if n == 0 {
		return 0, simerr.Domainf("empty trace")
	}
	z1 := 1 + z
	hi, lo := t.Points[0].Z1, t.Points[n-1].Z1
	if !(z1 >= lo && z1 <= hi) {
		return 0, simerr.Domainf("redshift %g outside computed range [%g, %g]", z, lo-1, hi-1)
	}
	for i := 1; i < n; i++ {
		p0, p1 := t.Points[i-1], t.Points[i]
		if z1 >= p1.Z1 {
			if p0.Z1 == p1.Z1 {
				return field(p1), nil
			}
			w := (z1 - p0.Z1) / (p1.Z1 - p0.Z1)
			return field(p0) + w*(field(p1)-field(p0)), nil
		}
	}
	return field(t.Points[n-1]), nil
}
