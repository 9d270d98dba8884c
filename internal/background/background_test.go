package background

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/physconst"
	"github.com/rcliao/dm21cm/internal/simerr"
)

func newTestBackground(t *testing.T) *Background {
	t.Helper()
	b, err := New(model.DefaultCosmology())
	require.NoError(t, err)
	return b
}

func TestSolveMassesNormal(t *testing.T) {
	m, err := SolveMasses(model.Normal, 0.06)
	require.NoError(t, err)
	assert.InEpsilon(t, 0.06, m.Sum(), 1e-8)
	assert.InDelta(t, physconst.M2Nu21, m[1]*m[1]-m[0]*m[0], 1e-12)
	assert.InDelta(t, physconst.M2Nu32, m[2]*m[2]-m[1]*m[1], 1e-12)
	assert.GreaterOrEqual(t, m[0], 0.0)
}

func TestSolveMassesInverted(t *testing.T) {
	m, err := SolveMasses(model.Inverted, 0.12)
	require.NoError(t, err)
	assert.InEpsilon(t, 0.12, m.Sum(), 1e-8)
	assert.InDelta(t, physconst.M2Nu21, m[1]*m[1]-m[0]*m[0], 1e-12)
	assert.InDelta(t, physconst.M2Nu32, m[1]*m[1]-m[2]*m[2], 1e-12)
}

func TestSolveMassesInvertedBelowMinimum(t *testing.T) {
	_, err := SolveMasses(model.Inverted, 0.06)
	require.Error(t, err)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestSolveMassesDegenerateAndMassless(t *testing.T) {
	m, err := SolveMasses(model.Degenerate, 0.3)
	require.NoError(t, err)
	assert.Equal(t, NeutrinoMasses{0.1, 0.1, 0.1}, m)

	m, err = SolveMasses(model.Normal, 0)
	require.NoError(t, err)
	assert.Equal(t, NeutrinoMasses{}, m)

	_, err = SolveMasses("sideways", 0.06)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	p := model.DefaultCosmology()
	p.OmegaBH2 = -1
	_, err := New(p)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	p = model.DefaultCosmology()
	p.Hierarchy = model.Inverted
	_, err = New(p)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestRhoRatioLimits(t *testing.T) {
	tab, err := rhoTable()
	require.NoError(t, err)

	assert.InDelta(t, 1.0, rhoRatio(tab, 1.01e-3), 1e-5)
	assert.Equal(t, 1.0, rhoRatio(tab, 1e-6))
	assert.InEpsilon(t, 999*physconst.NuNumber, rhoRatio(tab, 999), 1e-3)
	assert.Equal(t, 2e3*physconst.NuNumber, rhoRatio(tab, 2e3))

	prev := 0.0
	for _, lam := range numeric.LogSpace(1e-3, 1e3, 50) {
		r := rhoRatio(tab, lam)
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}
}

func TestDtauDaPositive(t *testing.T) {
	b := newTestBackground(t)
	for _, a := range numeric.LogSpace(1e-8, 10, 200) {
		v := b.DtauDa(a)
		assert.Greater(t, v, 0.0)
		assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
	}
}

func TestLambdaDomination(t *testing.T) {
	b := newTestBackground(t)
	want := 1 / (math.Sqrt(b.Params().OmegaDEH2) * physconst.BigH)
	for _, a := range []float64{100, 300, 1000} {
		assert.InEpsilon(t, want, a*a*b.DtauDa(a), 1e-5)
	}
}

func TestHubbleConstant(t *testing.T) {
	b := newTestBackground(t)
	assert.InDelta(t, 67.4, b.HubbleConstant(), 0.5)
	assert.InEpsilon(t, 100*b.LittleH(), b.HubbleConstant(), 1e-12)
	assert.InEpsilon(t, b.LittleH()*physconst.BigH, b.Hubble(1), 1e-12)
}

func TestEarlyCosmicTimeMatchesIntegral(t *testing.T) {
	b := newTestBackground(t)
	aeq := b.ScaleFactorEquality()
	for _, f := range []float64{1e-4, 1e-3, 9e-3} {
		a := f * aeq
		got, err := b.CosmicTime(a)
		require.NoError(t, err)
		assert.InEpsilon(t, b.EarlyCosmicTime(a), got, 0.01, "a=%g", a)
	}
}

func TestMatterEraScaling(t *testing.T) {
	b := newTestBackground(t)
	t1, err := b.CosmicTime(0.01)
	require.NoError(t, err)
	t2, err := b.CosmicTime(0.02)
	require.NoError(t, err)
	assert.InEpsilon(t, math.Pow(2, 1.5), t2/t1, 0.05)
}

func TestConformalTimeAdditive(t *testing.T) {
	b := newTestBackground(t)
	t13, err := b.ConformalTimeInterval(1e-4, 1)
	require.NoError(t, err)
	t12, err := b.ConformalTimeInterval(1e-4, 1e-2)
	require.NoError(t, err)
	t23, err := b.ConformalTimeInterval(1e-2, 1)
	require.NoError(t, err)
	assert.InEpsilon(t, t13, t12+t23, 1e-6)

	back, err := b.ConformalTimeInterval(1, 1e-4)
	require.NoError(t, err)
	assert.InEpsilon(t, -t13, back, 1e-12)
}

func TestSoundHorizonAtDecoupling(t *testing.T) {
	b := newTestBackground(t)
	rs, err := b.SoundHorizon(1 / 1090.0)
	require.NoError(t, err)
	assert.InEpsilon(t, 144.4, rs/physconst.Mpc, 0.03)
}

func TestHeliumAndNeutrinoSummary(t *testing.T) {
	b := newTestBackground(t)
	assert.InDelta(t, 0.2468, b.Yp(), 5e-4)

	z := b.NeutrinoNRRedshifts()
	m := b.Masses()
	for i := range z {
		assert.InEpsilon(t, m[i]*physconst.EV/physconst.TCNuB, z[i], 1e-12)
	}
	assert.Greater(t, z[2], z[1])
}

type fixedHelium float64

func (f fixedHelium) Yp(_, _ float64) float64 { return float64(f) }

func TestWithHelium(t *testing.T) {
	b, err := New(model.DefaultCosmology(), WithHelium(fixedHelium(0.25)))
	require.NoError(t, err)
	assert.Equal(t, 0.25, b.Yp())
}
