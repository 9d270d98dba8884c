package numeric

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/rcliao/dm21cm/internal/simerr"
)

const (
	quadStartNodes = 16
	quadMaxNodes   = 4096
)

// Integrate evaluates ∫_a^b f with Gauss–Legendre rules of doubling order
// until two successive estimates agree to relative tolerance rtol.
func Integrate(f func(float64) float64, a, b, rtol float64) (float64, error) {
	if a == b {
		return 0, nil
	}
	if a > b {
		v, err := Integrate(f, b, a, rtol)
		return -v, err
	}
	n := quadStartNodes
	prev := quad.Fixed(f, a, b, n, quad.Legendre{}, 0)
	for n < quadMaxNodes {
		n *= 2
		cur := quad.Fixed(f, a, b, n, quad.Legendre{}, 0)
		if math.IsNaN(cur) || math.IsInf(cur, 0) {
			break
		}
		if math.Abs(cur-prev) <= rtol*math.Abs(cur) {
			return cur, nil
		}
		prev = cur
	}
	return prev, simerr.Numerical("quadrature", map[string]float64{
		"a": a, "b": b, "rtol": rtol, "nodes": float64(n),
	}, ErrNoConvergence)
}
