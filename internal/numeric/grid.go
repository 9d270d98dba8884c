package numeric

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/rcliao/dm21cm/internal/simerr"
)

// LogSpace returns n points spaced evenly in ln between lo and hi inclusive.
func LogSpace(lo, hi float64, n int) []float64 {
	out := LinSpace(math.Log(lo), math.Log(hi), n)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	out[0], out[n-1] = lo, hi
	return out
}

// LinSpace returns n evenly spaced points between lo and hi inclusive.
func LinSpace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Kind selects an interpolation scheme.
type Kind int

const (
	Linear Kind = iota
	NaturalCubic
	Akima
	Monotone // Fritsch–Butland
)

func (k Kind) String() string {
	switch k {
	case Linear:
		return "linear"
	case NaturalCubic:
		return "natural-cubic"
	case Akima:
		return "akima"
	case Monotone:
		return "fritsch-butland"
	}
	return "unknown"
}

// Fit builds an interpolator of the given kind through (xs, ys). xs must be
// strictly increasing. Cubic kinds fall back to linear below four points.
// All returned predictors hold the end value outside [xs[0], xs[n-1]].
func Fit(kind Kind, xs, ys []float64) (interp.Predictor, error) {
	if len(xs) != len(ys) {
		return nil, simerr.Dataf("interpolation: %d abscissae, %d ordinates", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return nil, simerr.Dataf("interpolation: need at least 2 points, got %d", len(xs))
	}
	if !sort.Float64sAreSorted(xs) {
		return nil, simerr.Dataf("interpolation: abscissae not increasing")
	}
	if len(xs) < 4 {
		kind = Linear
	}
	var p interp.FittablePredictor
	switch kind {
	case NaturalCubic:
		p = &interp.NaturalCubic{}
	case Akima:
		p = &interp.AkimaSpline{}
	case Monotone:
		p = &interp.FritschButland{}
	default:
		p = &interp.PiecewiseLinear{}
	}
	if err := p.Fit(xs, ys); err != nil {
		return nil, simerr.Dataf("interpolation (%s): %v", kind, err)
	}
	return p, nil
}

// Grid2D is a rectangular table z[i][j] = f(xs[i], ys[j]) evaluated by
// bilinear interpolation. Queries outside the grid are clamped to its edge.
type Grid2D struct {
	xs, ys []float64
	z      [][]float64
}

// NewGrid2D checks the table shape and monotonicity of both axes.
func NewGrid2D(xs, ys []float64, z [][]float64) (*Grid2D, error) {
	if len(xs) < 2 || len(ys) < 2 {
		return nil, simerr.Dataf("grid2d: need at least 2x2 nodes, got %dx%d", len(xs), len(ys))
	}
	if len(z) != len(xs) {
		return nil, simerr.Dataf("grid2d: %d rows for %d x nodes", len(z), len(xs))
	}
	for i, row := range z {
		if len(row) != len(ys) {
			return nil, simerr.Dataf("grid2d: row %d has %d columns, want %d", i, len(row), len(ys))
		}
	}
	if !strictlyIncreasing(xs) || !strictlyIncreasing(ys) {
		return nil, simerr.Dataf("grid2d: axes must be strictly increasing")
	}
	return &Grid2D{xs: xs, ys: ys, z: z}, nil
}

// At evaluates the table at (x, y).
func (g *Grid2D) At(x, y float64) float64 {
	i, tx := bracket(g.xs, x)
	j, ty := bracket(g.ys, y)
	z00, z01 := g.z[i][j], g.z[i][j+1]
	z10, z11 := g.z[i+1][j], g.z[i+1][j+1]
	return (1-tx)*((1-ty)*z00+ty*z01) + tx*((1-ty)*z10+ty*z11)
}

// bracket returns the lower node index and fractional offset of v in xs,
// clamped to the table.
func bracket(xs []float64, v float64) (int, float64) {
	n := len(xs)
	if v <= xs[0] {
		return 0, 0
	}
	if v >= xs[n-1] {
		return n - 2, 1
	}
	i := sort.SearchFloat64s(xs, v) - 1
	return i, (v - xs[i]) / (xs[i+1] - xs[i])
}

func strictlyIncreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return false
		}
	}
	return true
}
