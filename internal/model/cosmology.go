// Package model defines the data types shared by the pipeline stages, the
// run store and the CLI.
package model

import (
	"github.com/rcliao/dm21cm/internal/simerr"
)

// Hierarchy is the neutrino mass ordering.
type Hierarchy string

const (
	Normal     Hierarchy = "normal"
	Inverted   Hierarchy = "inverted"
	Degenerate Hierarchy = "degenerate"
)

// ValidHierarchies are the allowed neutrino mass orderings.
var ValidHierarchies = map[Hierarchy]bool{
	Normal:     true,
	Inverted:   true,
	Degenerate: true,
}

// CosmologicalParameters are the physical densities Ω h² and neutrino
// parameters of a flat background.
type CosmologicalParameters struct {
	OmegaBH2  float64   `json:"omega_b_h2" yaml:"omega_b_h2"`
	OmegaDMH2 float64   `json:"omega_dm_h2" yaml:"omega_dm_h2"`
	OmegaDEH2 float64   `json:"omega_de_h2" yaml:"omega_de_h2"`
	NEff      float64   `json:"n_eff" yaml:"n_eff"`
	SumMNu    float64   `json:"sum_mnu_ev" yaml:"sum_mnu_ev"`
	Hierarchy Hierarchy `json:"hierarchy" yaml:"hierarchy"`
}

// DefaultCosmology returns the fiducial parameter set.
func DefaultCosmology() CosmologicalParameters {
	return CosmologicalParameters{
		OmegaBH2:  0.0224,
		OmegaDMH2: 0.120,
		OmegaDEH2: 0.311,
		NEff:      3.046,
		SumMNu:    0.06,
		Hierarchy: Normal,
	}
}

// Validate rejects unphysical densities and unknown hierarchies.
func (p CosmologicalParameters) Validate() error {
	switch {
	case p.OmegaBH2 <= 0:
		return simerr.Configf("omega_b_h2 must be positive, got %g", p.OmegaBH2)
	case p.OmegaDMH2 < 0:
		return simerr.Configf("omega_dm_h2 must be non-negative, got %g", p.OmegaDMH2)
	case p.OmegaDEH2 < 0:
		return simerr.Configf("omega_de_h2 must be non-negative, got %g", p.OmegaDEH2)
	case p.NEff < 0:
		return simerr.Configf("n_eff must be non-negative, got %g", p.NEff)
	case p.SumMNu < 0:
		return simerr.Configf("sum_mnu_ev must be non-negative, got %g", p.SumMNu)
	case !ValidHierarchies[p.Hierarchy]:
		return simerr.Configf("unknown neutrino hierarchy %q", p.Hierarchy)
	}
	return nil
}
