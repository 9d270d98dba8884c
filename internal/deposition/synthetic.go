package deposition

import (
	"math"

	"github.com/rcliao/dm21cm/internal/numeric"
)

// SyntheticOptions size an on-the-spot deposition table.
type SyntheticOptions struct {
	Z1Min, Z1Max float64 // 1+z range, shared by input and output grids
	NZ           int
	EMin, EMax   float64 // eV, bin centres
	NE           int
}

// DefaultSyntheticOptions spans the redshifts and energies of the
// published tables at reduced resolution.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{Z1Min: 10, Z1Max: 3000, NZ: 60, EMin: 1e3, EMax: 1e12, NE: 40}
}

// Synthetic builds electron and photon tables in which energy injected at
// 1+z is deposited at the same redshift:
//
//	tc[s, k, E, i] = w_s(z1_i)·δ_ki
//
// so that, without clumping, fc equals the subchannel weights. The weights
// fall off above 1+z = 1000 the way on-the-spot deposition does once the
// universe becomes optically thick to the products.
func Synthetic(o SyntheticOptions) (elec, phot *Dataset) {
	z1 := numeric.LogSpace(o.Z1Min, o.Z1Max, o.NZ)
	energy := numeric.LogSpace(o.EMin, o.EMax, o.NE)
	build := func(sp Species, scale float64) *Dataset {
		tc := NewTensor4(NumSubchannels, o.NZ, o.NE, o.NZ)
		fion := make([]float64, o.NE*o.NZ)
		for i, z := range z1 {
			w := SyntheticWeights(z)
			for j := range energy {
				for s := 0; s < NumSubchannels; s++ {
					tc.Set(s, i, j, i, scale*w[s])
				}
				fion[j*o.NZ+i] = scale * (w[HIon] + w[HeIon])
			}
		}
		return &Dataset{
			Species:  sp,
			Z1Out:    z1,
			Energy:   energy,
			Z1In:     append([]float64(nil), z1...),
			Channels: SubchannelNames[:],
			TC:       tc,
			FIon:     fion,
		}
	}
	return build(Electron, 1), build(Photon, 0.9)
}

// SyntheticWeights are the per-subchannel deposition fractions of the
// synthetic table at 1+z.
func SyntheticWeights(z1 float64) [NumSubchannels]float64 {
	s := 1 / (1 + math.Pow(z1/1000, 4))
	return [NumSubchannels]float64{
		HIon:  0.3 * s,
		HeIon: 0.03 * s,
		Exc:   0.2 * s,
		Heat:  0.3 * s,
		Cont:  0.1 * s,
	}
}
