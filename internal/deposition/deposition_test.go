package deposition

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/dm21cm/internal/simerr"
)

func smallOptions() SyntheticOptions {
	return SyntheticOptions{Z1Min: 20, Z1Max: 2000, NZ: 12, EMin: 1e4, EMax: 1e10, NE: 7}
}

func writeTables(t *testing.T, elec, phot *Dataset) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, WriteJSON(filepath.Join(dir, "elec_processed_results.json"), elec))
	require.NoError(t, WriteJSON(filepath.Join(dir, "phot_processed_results.json"), phot))
	return dir
}

// mixedDataset has off-diagonal transfer so calibration mixes redshifts.
func mixedDataset(sp Species) *Dataset {
	z1 := []float64{30, 100, 300, 1000}
	energy := []float64{1e5, 1e6, 1e7}
	tc := NewTensor4(NumSubchannels, len(z1), len(energy), len(z1))
	for s := range NumSubchannels {
		for k := range z1 {
			for j := range energy {
				for i := range z1 {
					if k >= i {
						tc.Set(s, k, j, i, 0.01*float64(1+s+j)/float64(1+k-i))
					}
				}
			}
		}
	}
	return &Dataset{
		Species: sp,
		Z1Out:   z1,
		Energy:  energy,
		Z1In:    z1,
		TC:      tc,
		FIon:    make([]float64, len(energy)*len(z1)),
	}
}

func matterDtauda(a float64) float64 { return 1 / math.Sqrt(0.14*a+8e-5) }

func TestLoadChannelsRejectsDecayBeforeIO(t *testing.T) {
	for _, mode := range []int{ModeDecay, 0, 3} {
		_, err := LoadChannels("/does/not/exist", mode)
		require.Error(t, err)
		assert.ErrorIs(t, err, simerr.ErrConfiguration, "mode %d", mode)
	}
}

func TestLoadChannelsJSON(t *testing.T) {
	elec, phot := Synthetic(smallOptions())
	dir := writeTables(t, elec, phot)

	ch, err := LoadChannels(dir, ModeAnnihilation)
	require.NoError(t, err)
	assert.Equal(t, 6.0, ch.Exponent())
	assert.Len(t, ch.Z1Out, 12)
	require.Len(t, ch.Energy, 7)
	assert.InEpsilon(t, 1e4, ch.Energy[0], 1e-12)
	assert.Equal(t, NumSubchannels, ch.NumSubchannels())

	assert.InEpsilon(t, math.Log(10), ch.DlnE(), 1e-9)
	assert.InEpsilon(t, 1e4/math.Sqrt(10), ch.EMin(), 1e-9)
	assert.InEpsilon(t, 1e10*math.Sqrt(10), ch.EMax(), 1e-9)
	edges := ch.Edges()
	require.Len(t, edges, 8)
	assert.Equal(t, ch.EMin(), edges[0])
	assert.Equal(t, ch.EMax(), edges[7])

	assert.Equal(t, elec.TC.Data, ch.Electron.TC.Data)
	assert.Equal(t, Photon, ch.Photon.Species)
}

func TestLoadChannelsGridMismatch(t *testing.T) {
	elec, _ := Synthetic(smallOptions())
	o := smallOptions()
	o.EMax = 1e11
	_, phot := Synthetic(o)
	dir := writeTables(t, elec, phot)

	_, err := LoadChannels(dir, ModeAnnihilation)
	assert.ErrorIs(t, err, simerr.ErrData)
}

func TestLoadChannelsMissingFile(t *testing.T) {
	elec, _ := Synthetic(smallOptions())
	dir := t.TempDir()
	require.NoError(t, WriteJSON(filepath.Join(dir, "elec_processed_results.json"), elec))

	_, err := LoadChannels(dir, ModeAnnihilation)
	assert.ErrorIs(t, err, simerr.ErrData)
}

func TestLoadChannelsBadShape(t *testing.T) {
	dir := t.TempDir()
	bad := `{"OUTPUT_REDSHIFT":[10,20],"ENERGY":[3,4],"INPUT_REDSHIFT":[10,20],"DEPOSITION_FRACTIONS_NEW":[1,2,3],"F_ION":[0,0,0,0]}`
	for _, stem := range []string{"elec", "phot"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+"_processed_results.json"), []byte(bad), 0o644))
	}
	_, err := LoadChannels(dir, ModeAnnihilation)
	assert.ErrorIs(t, err, simerr.ErrData)
}

func TestLoadChannelsCustomReader(t *testing.T) {
	elec, phot := Synthetic(smallOptions())
	dir := t.TempDir()
	for _, stem := range []string{"elec", "phot"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+"_processed_results.mem"), nil, 0o644))
	}
	calls := 0
	r := ReaderFunc(func(path string) (*Dataset, error) {
		calls++
		if filepath.Base(path) == "elec_processed_results.mem" {
			return elec, nil
		}
		return phot, nil
	})

	ch, err := LoadChannels(dir, ModeAnnihilation, WithReader(".mem", r))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Same(t, elec, ch.Electron)
}

func TestCalibrateOnTheSpotIdentity(t *testing.T) {
	elec, phot := Synthetic(smallOptions())
	ch, err := NewChannels(ModeAnnihilation, elec, phot)
	require.NoError(t, err)

	cal := ch.Calibrate(matterDtauda, nil)
	for i, z1 := range ch.Z1Out {
		w := SyntheticWeights(z1)
		for j := range ch.Energy {
			for s := range NumSubchannels {
				assert.InEpsilon(t, w[s], cal.Electron.At(s, j, i), 1e-12)
				assert.InEpsilon(t, 0.9*w[s], cal.Photon.At(s, j, i), 1e-12)
			}
		}
	}

	check := cal.CheckIonization(1e-6)
	assert.Zero(t, check.Exceeded)
	assert.Equal(t, 2*len(ch.Energy)*len(ch.Z1Out), check.Checked)
	assert.Less(t, check.Worst, 1e-12)
}

func TestCalibrateLinearInConstantClumping(t *testing.T) {
	ch, err := NewChannels(ModeAnnihilation, mixedDataset(Electron), mixedDataset(Photon))
	require.NoError(t, err)

	base := ch.Calibrate(matterDtauda, nil)
	boosted := ch.Calibrate(matterDtauda, func(float64) float64 { return 7.5 })
	for i := range base.Electron.Data {
		assert.InDelta(t, 7.5*base.Electron.Data[i], boosted.Electron.Data[i], 1e-12)
		assert.InDelta(t, 7.5*base.Photon.Data[i], boosted.Photon.Data[i], 1e-12)
	}
}

func TestCalibrateInvariantUnderDtaudaRescale(t *testing.T) {
	ch, err := NewChannels(ModeAnnihilation, mixedDataset(Electron), mixedDataset(Photon))
	require.NoError(t, err)

	base := ch.Calibrate(matterDtauda, nil)
	scaled := ch.Calibrate(func(a float64) float64 { return 3.2e17 * matterDtauda(a) }, nil)
	for i := range base.Electron.Data {
		assert.InDelta(t, base.Electron.Data[i], scaled.Electron.Data[i], 1e-12)
	}
}

func TestCalibrateKernelByHand(t *testing.T) {
	ds := mixedDataset(Electron)
	ch, err := NewChannels(ModeAnnihilation, ds, mixedDataset(Photon))
	require.NoError(t, err)

	clump := func(z float64) float64 { return 1 + z/100 }
	cal := ch.Calibrate(matterDtauda, clump)

	s, j, i := Heat, 1, 0
	zout := ds.Z1Out[i]
	gout := zout * matterDtauda(1/zout)
	var want float64
	for k, zin := range ds.Z1In {
		want += ds.TC.At(s, k, j, i) * zin * matterDtauda(1/zin) * clump(zin-1)
	}
	want /= gout
	assert.InEpsilon(t, want, cal.Electron.At(s, j, i), 1e-12)
}

func TestNewChannelsRejectsDecay(t *testing.T) {
	elec, phot := Synthetic(smallOptions())
	_, err := NewChannels(ModeDecay, elec, phot)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestLoadClumping(t *testing.T) {
	fn, err := LoadClumping(filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fn(500))

	path := filepath.Join(t.TempDir(), "clump.txt")
	table := "# z boost\n0 100\n10 50\n20 20\n50 5\n100 1.5\n1000 1\n"
	require.NoError(t, os.WriteFile(path, []byte(table), 0o644))
	fn, err = LoadClumping(path, nil)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, fn(10), 1e-9)
	assert.InDelta(t, 1.0, fn(1000), 1e-9)

	require.NoError(t, os.WriteFile(path, []byte("1 2\nx 3\n"), 0o644))
	_, err = LoadClumping(path, nil)
	assert.ErrorIs(t, err, simerr.ErrData)
}

func TestTensorIndexing(t *testing.T) {
	t4 := NewTensor4(2, 3, 4, 5)
	t4.Set(1, 2, 3, 4, 9)
	assert.Equal(t, 9.0, t4.Data[len(t4.Data)-1])
	assert.Equal(t, 9.0, t4.At(1, 2, 3, 4))

	t3 := NewTensor3(2, 3, 4)
	t3.Set(1, 0, 2, 5)
	t3.Set(1, 2, 2, 6)
	assert.Equal(t, []float64{5, 0, 6}, t3.Column(1, 2))
}
