package numeric

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/dm21cm/internal/simerr"
)

func TestBrentFindsRoot(t *testing.T) {
	x, err := Brent(func(x float64) float64 { return x*x*x - 2*x - 5 }, 2, 3, 1e-14, 100)
	require.NoError(t, err)
	assert.InDelta(t, 2.0945514815423265, x, 1e-12)

	x, err = Brent(math.Cos, 0, 3, 1e-14, 100)
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/2, x, 1e-12)
}

func TestBrentEndpointRoot(t *testing.T) {
	x, err := Brent(func(x float64) float64 { return x - 1 }, 1, 4, 1e-12, 50)
	require.NoError(t, err)
	assert.Equal(t, 1.0, x)
}

func TestBrentNotBracketed(t *testing.T) {
	_, err := Brent(func(x float64) float64 { return x*x + 1 }, -1, 1, 1e-12, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, simerr.ErrNumerical)
	assert.ErrorIs(t, err, ErrNotBracketed)

	var ne *simerr.NumericalError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, -1.0, ne.Params["lo"])
}

func TestBrentErrPropagatesObjectiveError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := BrentErr(func(x float64) (float64, error) {
		calls++
		if calls > 2 {
			return 0, boom
		}
		return x - 0.3, nil
	}, 0, 1, 1e-14, 100)
	assert.ErrorIs(t, err, boom)
}

func TestExpandBracket(t *testing.T) {
	f := func(x float64) (float64, error) { return math.Log(x) - 5, nil }
	lo, hi, err := ExpandBracket(f, 1, math.Exp(0.7), 20)
	require.NoError(t, err)
	assert.Less(t, math.Log(lo), 5.0)
	assert.GreaterOrEqual(t, math.Log(hi), 5.0)
	assert.InDelta(t, 0.7, math.Log(hi/lo), 1e-12)

	_, _, err = ExpandBracket(f, 1, 1.1, 3)
	assert.ErrorIs(t, err, simerr.ErrNumerical)
}

func TestIntegrate(t *testing.T) {
	v, err := Integrate(math.Sin, 0, math.Pi, 1e-10)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-10)

	v, err = Integrate(func(x float64) float64 { return math.Exp(-x) }, 5, 0, 1e-10)
	require.NoError(t, err)
	assert.InDelta(t, -(1 - math.Exp(-5)), v, 1e-10)

	v, err = Integrate(math.Sin, 1, 1, 1e-6)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestIntegrateNonConvergent(t *testing.T) {
	_, err := Integrate(func(x float64) float64 { return math.Sin(1 / x) / x }, 1e-9, 1, 1e-12)
	assert.ErrorIs(t, err, simerr.ErrNumerical)
	assert.ErrorIs(t, err, ErrNoConvergence)
}

func TestLogSpaceEndpoints(t *testing.T) {
	xs := LogSpace(1e-3, 1e3, 7)
	require.Len(t, xs, 7)
	assert.Equal(t, 1e-3, xs[0])
	assert.Equal(t, 1e3, xs[6])
	assert.InEpsilon(t, 1.0, xs[3], 1e-12)
}

func TestFitKinds(t *testing.T) {
	xs := LinSpace(0, 3, 31)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = x * x
	}
	for _, k := range []Kind{Linear, NaturalCubic, Akima, Monotone} {
		t.Run(k.String(), func(t *testing.T) {
			p, err := Fit(k, xs, ys)
			require.NoError(t, err)
			for i, x := range xs {
				assert.InDelta(t, ys[i], p.Predict(x), 1e-12)
			}
			assert.InDelta(t, 2.25, p.Predict(1.5), 0.01)
			assert.Equal(t, ys[len(ys)-1], p.Predict(10))
			assert.Equal(t, ys[0], p.Predict(-1))
		})
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(Linear, []float64{0, 1}, []float64{0})
	assert.ErrorIs(t, err, simerr.ErrData)
	_, err = Fit(Akima, []float64{0, 2, 1, 3}, []float64{0, 1, 2, 3})
	assert.ErrorIs(t, err, simerr.ErrData)
}

func TestGrid2D(t *testing.T) {
	xs := []float64{0, 1, 2}
	ys := []float64{0, 10}
	z := [][]float64{{0, 10}, {1, 11}, {2, 12}}
	g, err := NewGrid2D(xs, ys, z)
	require.NoError(t, err)

	assert.InDelta(t, 5.5, g.At(0.5, 5), 1e-12)
	assert.InDelta(t, 12.0, g.At(5, 50), 1e-12)
	assert.InDelta(t, 1.0, g.At(1, 0), 1e-12)

	_, err = NewGrid2D(xs, ys, z[:2])
	assert.ErrorIs(t, err, simerr.ErrData)
}
