package thermal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/dm21cm/internal/background"
	"github.com/rcliao/dm21cm/internal/deposition"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/physconst"
	"github.com/rcliao/dm21cm/internal/simerr"
)

var (
	testZ1     = []float64{20, 50, 100, 300, 1000}
	testEnergy = []float64{1e4, 1e5, 1e6, 1e7, 1e8, 1e9}
)

func emptyDataset() *deposition.Dataset {
	return &deposition.Dataset{
		Z1Out:  testZ1,
		Energy: testEnergy,
		Z1In:   testZ1,
		TC:     deposition.NewTensor4(deposition.NumSubchannels, len(testZ1), len(testEnergy), len(testZ1)),
		FIon:   make([]float64, len(testEnergy)*len(testZ1)),
	}
}

// deltaCalibrated has fc non-zero only in energy bin j0.
func deltaCalibrated(t *testing.T, j0 int) *deposition.Calibrated {
	t.Helper()
	ch, err := deposition.NewChannels(deposition.ModeAnnihilation, emptyDataset(), emptyDataset())
	require.NoError(t, err)
	ne, nz := len(testEnergy), len(testZ1)
	elec := deposition.NewTensor3(deposition.NumSubchannels, ne, nz)
	phot := deposition.NewTensor3(deposition.NumSubchannels, ne, nz)
	for s := 0; s < deposition.NumSubchannels; s++ {
		for i := range testZ1 {
			elec.Set(s, j0, i, 0.1*float64(s+1)+0.01*float64(i))
			phot.Set(s, j0, i, 0.05*float64(s+1)+0.02*float64(i))
		}
	}
	return &deposition.Calibrated{Channels: ch, Electron: elec, Photon: phot}
}

func TestIntegrateDepositionDiracDelta(t *testing.T) {
	const j0 = 3
	cal := deltaCalibrated(t, j0)

	spec := model.NewSpectrum(testEnergy, model.SourceMonochromatic)
	spec.Electron[j0] = 1
	fz, err := IntegrateDeposition(cal, spec)
	require.NoError(t, err)
	for s := 0; s < deposition.NumSubchannels; s++ {
		for i := range testZ1 {
			assert.InDelta(t, cal.Electron.At(s, j0, i), fz.At(s, i), 1e-12, "subchannel %d z %d", s, i)
		}
	}

	spec = model.NewSpectrum(testEnergy, model.SourceMonochromatic)
	spec.Photon[j0] = 1
	fz, err = IntegrateDeposition(cal, spec)
	require.NoError(t, err)
	for s := 0; s < deposition.NumSubchannels; s++ {
		for i := range testZ1 {
			assert.InDelta(t, cal.Photon.At(s, j0, i), fz.At(s, i), 1e-12)
		}
	}
}

func TestIntegrateDepositionFlatExtrapolation(t *testing.T) {
	cal := deltaCalibrated(t, len(testEnergy)-1)
	// Slightly above the last bin centre but inside its upper edge.
	e := testEnergy[len(testEnergy)-1] * 1.5
	spec := model.NewSpectrum([]float64{e / 10, e}, model.SourceTable)
	spec.Electron[1] = 0.5
	fz, err := IntegrateDeposition(cal, spec)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*cal.Electron.At(0, len(testEnergy)-1, 2), fz.At(0, 2), 1e-12)
}

func TestIntegrateDepositionOutsideRange(t *testing.T) {
	cal := deltaCalibrated(t, 0)
	spec := model.NewSpectrum([]float64{1e14, 1e15}, model.SourceTable)
	spec.Photon[0] = 0.4
	_, err := IntegrateDeposition(cal, spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, simerr.ErrData)
}

func TestIntegrateDepositionEmptySpectrum(t *testing.T) {
	cal := deltaCalibrated(t, 0)
	fz, err := IntegrateDeposition(cal, model.NewSpectrum(testEnergy, model.SourceGenerator))
	require.NoError(t, err)
	for i := range testZ1 {
		assert.Zero(t, fz.Total(i))
	}
	rows := fz.Rows()
	require.Len(t, rows, len(testZ1))
	assert.Equal(t, testZ1[2], rows[2].Z1)
}

func newBackground(t *testing.T) *background.Background {
	t.Helper()
	bg, err := background.New(model.DefaultCosmology())
	require.NoError(t, err)
	return bg
}

func unitFz() *Fz {
	fz := &Fz{Z1: testZ1}
	for s := range fz.Values {
		fz.Values[s] = make([]float64, len(testZ1))
		for i := range testZ1 {
			fz.Values[s][i] = 0.1 * float64(s+1)
		}
	}
	return fz
}

func TestDeriveSourceRatesAnnihilation(t *testing.T) {
	bg := newBackground(t)
	inj := model.InjectionParameters{
		Process: model.Annihilation, MassGeV: 100, Channel: model.ChannelBB,
		SigmaV: 3e-26, Multiplicity: 2,
	}
	fz := unitFz()
	r := DeriveSourceRates(bg, inj, fz)
	require.Len(t, r.Xion, len(testZ1))

	p := bg.Params()
	for i, z1 := range testZ1 {
		a := 1 / z1
		gamma := 3e-26 * 1e-6 * p.OmegaDMH2 * physconst.RhoCH2 * z1 * z1 * z1 / (100 * physconst.GeV) / 2
		x := gamma / bg.Hubble(a) * p.OmegaDMH2 / p.OmegaBH2 / (1 - bg.Yp()) * physconst.MH * physconst.C * physconst.C
		assert.InEpsilon(t, 0.1*x/physconst.VH, r.Xion[i], 1e-10)
		assert.InEpsilon(t, 0.3*x/(0.75*physconst.VH), r.Xexc[i], 1e-10)
		assert.InEpsilon(t, 0.4*x/physconst.EV, r.Xheat[i], 1e-10)
	}
	// Γ ∝ (1+z)³ and H ∝ (1+z)^(3/2) in matter domination.
	assert.Greater(t, r.Xion[4], r.Xion[0])
}

func TestDeriveSourceRatesDecay(t *testing.T) {
	bg := newBackground(t)
	inj := model.InjectionParameters{Process: model.Decay, MassGeV: 1, Channel: model.ChannelEE, DecayRate: 1e-25, Multiplicity: 1}
	r := DeriveSourceRates(bg, inj, unitFz())
	a := 1 / testZ1[1]
	assert.InEpsilon(t, 1e-25, InjectionRate(bg, inj, a), 1e-12)
	assert.Positive(t, r.Xheat[1])
}

func TestSourceRatesAt(t *testing.T) {
	r := &SourceRates{
		Z1:    []float64{1000, 100, 10},
		Xion:  []float64{3, 2, 1},
		Xexc:  []float64{30, 20, 10},
		Xheat: []float64{300, 200, 100},
	}
	xion, xexc, xheat := r.At(100)
	assert.InDelta(t, 2, xion, 1e-12)
	assert.InDelta(t, 20, xexc, 1e-12)
	assert.InDelta(t, 200, xheat, 1e-12)

	xion, _, _ = r.At(math.Sqrt(1000 * 100))
	assert.InDelta(t, 2.5, xion, 1e-12)

	xion, xexc, xheat = r.At(5000)
	assert.Zero(t, xion+xexc+xheat)
	xion, _, _ = r.At(5)
	assert.Zero(t, xion)

	xion, _, _ = Zero().At(100)
	assert.Zero(t, xion)
}
