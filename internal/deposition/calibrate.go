package deposition

import (
	"math"
)

// Calibrated holds the deposition fractions fc of both species, indexed
// (subchannel, energy, output redshift), for one expansion history and
// clumping model.
type Calibrated struct {
	Channels *Channels
	Electron Tensor3
	Photon   Tensor3
}

// FC returns the calibrated tensor of one species.
func (c *Calibrated) FC(s Species) Tensor3 {
	if s == Photon {
		return c.Photon
	}
	return c.Electron
}

// Calibrate collapses the input-redshift axis of each table:
//
//	fc[s,E,zout] = Σ_zin tc[s,zin,E,zout]·g_in(zin)/g_out(zout)
//	g_in(z)  = z^(p-5)·dtauda(1/z)·clump(z-1)
//	g_out(z) = z^(p-5)·dtauda(1/z)
//
// with z = 1+redshift. A nil clump is the identity.
func (c *Channels) Calibrate(dtauda func(a float64) float64, clump func(z float64) float64) *Calibrated {
	if clump == nil {
		clump = NoClumping
	}
	return &Calibrated{
		Channels: c,
		Electron: c.calibrate(c.Electron, dtauda, clump),
		Photon:   c.calibrate(c.Photon, dtauda, clump),
	}
}

func (c *Channels) calibrate(ds *Dataset, dtauda, clump func(float64) float64) Tensor3 {
	nch, nin, nerg, nout := ds.TC.Shape[0], ds.TC.Shape[1], ds.TC.Shape[2], ds.TC.Shape[3]
	gin := make([]float64, nin)
	for k, z1 := range ds.Z1In {
		gin[k] = math.Pow(z1, c.pow-5) * dtauda(1/z1) * clump(z1-1)
	}
	gout := make([]float64, nout)
	for i, z1 := range ds.Z1Out {
		gout[i] = math.Pow(z1, c.pow-5) * dtauda(1/z1)
	}

	fc := NewTensor3(nch, nerg, nout)
	for s := 0; s < nch; s++ {
		for k := 0; k < nin; k++ {
			for j := 0; j < nerg; j++ {
				for i := 0; i < nout; i++ {
					fc.Data[fc.index(s, j, i)] += ds.TC.At(s, k, j, i) * gin[k]
				}
			}
		}
		for j := 0; j < nerg; j++ {
			for i := 0; i < nout; i++ {
				fc.Data[fc.index(s, j, i)] /= gout[i]
			}
		}
	}
	return fc
}

// IonizationCheck summarises the comparison of H+He ionization in fc with
// the tables' F_ION cross-check column.
type IonizationCheck struct {
	Worst    float64 `json:"worst"`
	Species  string  `json:"species"`
	Energy   float64 `json:"energy_ev"`
	Z1       float64 `json:"z1"`
	Exceeded int     `json:"exceeded"`
	Checked  int     `json:"checked"`
}

// CheckIonization reports the largest relative deviation of
// fc[HIon]+fc[HeIon] from F_ION and how many bins exceed tol. Bins with a
// zero reference are skipped.
func (c *Calibrated) CheckIonization(tol float64) IonizationCheck {
	var out IonizationCheck
	for _, sp := range AllSpecies {
		ds := c.Channels.Dataset(sp)
		fc := c.FC(sp)
		for j := range ds.Energy {
			for i := range ds.Z1Out {
				ref := ds.FIonAt(j, i)
				if ref == 0 {
					continue
				}
				d := math.Abs((fc.At(HIon, j, i)+fc.At(HeIon, j, i))/ref - 1)
				out.Checked++
				if d > tol {
					out.Exceeded++
				}
				if d > out.Worst {
					out.Worst = d
					out.Species = sp.String()
					out.Energy = ds.Energy[j]
					out.Z1 = ds.Z1Out[i]
				}
			}
		}
	}
	return out
}
