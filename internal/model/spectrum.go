package model

import "time"

// Spectrum is an injection spectrum on the deposition energy grid. Each
// species slice holds the fraction of the centre-of-mass energy carried by
// that species in the corresponding bin.
type Spectrum struct {
	Energy   []float64      `json:"energy_ev"`
	Electron []float64      `json:"electron"`
	Photon   []float64      `json:"photon"`
	Proton   []float64      `json:"proton"`
	Neutrino []float64      `json:"neutrino"`
	Other    []float64      `json:"other"`
	Source   SpectrumSource `json:"source"`

	// OutOfGrid is the fraction of the centre-of-mass energy carried by
	// electrons and photons outside the energy grid.
	OutOfGrid float64 `json:"em_out_of_grid,omitempty"`

	Events     int  `json:"events,omitempty"`
	Accepted   int  `json:"accepted,omitempty"`
	Failures   int  `json:"failures,omitempty"`
	Unbalanced int  `json:"unbalanced,omitempty"` // failures that broke energy-momentum conservation
	Anomalies  int  `json:"anomalies,omitempty"`
	Aborted    bool `json:"aborted"`
}

// NewSpectrum allocates an empty spectrum on the given grid.
func NewSpectrum(energy []float64, src SpectrumSource) *Spectrum {
	n := len(energy)
	return &Spectrum{
		Energy:   append([]float64(nil), energy...),
		Electron: make([]float64, n),
		Photon:   make([]float64, n),
		Proton:   make([]float64, n),
		Neutrino: make([]float64, n),
		Other:    make([]float64, n),
		Source:   src,
	}
}

// EMFraction is the energy fraction carried by electrons and photons.
func (s *Spectrum) EMFraction() float64 {
	return sum(s.Electron) + sum(s.Photon)
}

// Total is the energy fraction carried by all species.
func (s *Spectrum) Total() float64 {
	return s.EMFraction() + sum(s.Proton) + sum(s.Neutrino) + sum(s.Other)
}

// Scale multiplies every species by f.
func (s *Spectrum) Scale(f float64) {
	for _, xs := range [][]float64{s.Electron, s.Photon, s.Proton, s.Neutrino, s.Other} {
		for i := range xs {
			xs[i] *= f
		}
	}
	s.OutOfGrid *= f
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x
	}
	return t
}

// FzRow is the deposited-to-injected energy ratio per subchannel at one
// output redshift.
type FzRow struct {
	Z1        float64 `json:"z1"`
	HIon      float64 `json:"h_ion"`
	HeIon     float64 `json:"he_ion"`
	Exc       float64 `json:"exc"`
	Heat      float64 `json:"heat"`
	Continuum float64 `json:"continuum"`
}

// TracePoint is one row of the 21-cm signal trace.
type TracePoint struct {
	Z1      float64 `json:"z1"`
	Xe      float64 `json:"xe"`
	Tm      float64 `json:"tm_k"`
	Tr      float64 `json:"tr_k"`
	Ts      float64 `json:"ts_k"`
	Xc      float64 `json:"xc"`
	Tau     float64 `json:"tau"`
	DeltaTb float64 `json:"delta_tb_k"`
}

// Run is a stored pipeline run.
type Run struct {
	ID        string                 `json:"id"`
	Label     string                 `json:"label,omitempty"`
	Cosmology CosmologicalParameters `json:"cosmology"`
	Injection InjectionParameters    `json:"injection"`
	Source    SpectrumSource         `json:"spectrum_source"`
	Aborted   bool                   `json:"aborted"`
	ZTarget   float64                `json:"z_target,omitempty"`
	DeltaTb   float64                `json:"delta_tb_k"`
	Baseline  float64                `json:"delta_tb_baseline_k"`
	Tables    string                 `json:"deposition_tables,omitempty"` // table directory, or "synthetic"
	CreatedAt time.Time              `json:"created_at"`
	DeletedAt *time.Time             `json:"deleted_at,omitempty"`

	Fz    []FzRow      `json:"fz,omitempty"`
	Trace []TracePoint `json:"trace,omitempty"`
}

// Excess is the part of δT_b attributable to injection.
func (r *Run) Excess() float64 { return r.DeltaTb - r.Baseline }
