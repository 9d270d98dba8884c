// Package thermal turns an injection spectrum and calibrated deposition
// fractions into the ionization, excitation and heating source terms handed
// to a recombination solver.
package thermal

import (
	"math"

	"github.com/rcliao/dm21cm/internal/deposition"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/simerr"
)

// Fz is the deposited-to-injected energy ratio per subchannel on the
// deposition output-redshift grid.
type Fz struct {
	Z1     []float64
	Values [deposition.NumSubchannels][]float64
}

// At returns fz for subchannel ch at output index i.
func (f *Fz) At(ch, i int) float64 { return f.Values[ch][i] }

// Total is the energy ratio summed over all subchannels at output index i.
func (f *Fz) Total(i int) float64 {
	var t float64
	for ch := range f.Values {
		t += f.Values[ch][i]
	}
	return t
}

// Rows flattens fz into artifact rows.
func (f *Fz) Rows() []model.FzRow {
	rows := make([]model.FzRow, len(f.Z1))
	for i, z1 := range f.Z1 {
		rows[i] = model.FzRow{
			Z1:        z1,
			HIon:      f.Values[deposition.HIon][i],
			HeIon:     f.Values[deposition.HeIon][i],
			Exc:       f.Values[deposition.Exc][i],
			Heat:      f.Values[deposition.Heat][i],
			Continuum: f.Values[deposition.Cont][i],
		}
	}
	return rows
}

// IntegrateDeposition folds spec against the calibrated fractions:
//
//	fz[ch,zout] = Σ_E fc_γ[ch,E,zout]·spec_γ[E] + fc_e[ch,E,zout]·spec_e[E]
//
// fc is interpolated by natural cubic spline in ln E and held flat beyond
// the tabulated grid. A spectrum whose every non-zero bin falls outside the
// deposition energy range is a DataError.
func IntegrateDeposition(cal *deposition.Calibrated, spec *model.Spectrum) (*Fz, error) {
	ch := cal.Channels
	nout := len(ch.Z1Out)
	fz := &Fz{Z1: append([]float64(nil), ch.Z1Out...)}
	for n := range fz.Values {
		fz.Values[n] = make([]float64, nout)
	}

	type bin struct {
		lnE          float64
		elec, photon float64
	}
	var bins []bin
	inside := 0
	for j, e := range spec.Energy {
		w := bin{lnE: math.Log(e), elec: spec.Electron[j], photon: spec.Photon[j]}
		if w.elec == 0 && w.photon == 0 {
			continue
		}
		if e >= ch.EMin() && e <= ch.EMax() {
			inside++
		}
		bins = append(bins, w)
	}
	if len(bins) == 0 {
		return fz, nil
	}
	if inside == 0 {
		return nil, simerr.Dataf("injection spectrum lies entirely outside the deposition energy range [%g, %g] eV",
			ch.EMin(), ch.EMax())
	}

	lnE := make([]float64, len(ch.Energy))
	for j, e := range ch.Energy {
		lnE[j] = math.Log(e)
	}
	nsub := min(ch.NumSubchannels(), int(deposition.NumSubchannels))
	for n := 0; n < nsub; n++ {
		for i := 0; i < nout; i++ {
			fe, err := numeric.Fit(numeric.NaturalCubic, lnE, cal.Electron.Column(n, i))
			if err != nil {
				return nil, err
			}
			fp, err := numeric.Fit(numeric.NaturalCubic, lnE, cal.Photon.Column(n, i))
			if err != nil {
				return nil, err
			}
			var s float64
			for _, b := range bins {
				if b.elec != 0 {
					s += fe.Predict(b.lnE) * b.elec
				}
				if b.photon != 0 {
					s += fp.Predict(b.lnE) * b.photon
				}
			}
			fz.Values[n][i] = s
		}
	}
	return fz, nil
}
