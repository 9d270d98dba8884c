// Package numeric collects the small numerical kernels the pipeline needs on
// top of gonum: bracketed root finding, adaptive fixed-rule quadrature, grid
// helpers and interpolator constructors.
package numeric

import (
	"errors"
	"math"

	"github.com/rcliao/dm21cm/internal/simerr"
)

var (
	ErrNotBracketed  = errors.New("root not bracketed")
	ErrNoConvergence = errors.New("no convergence")
)

const machEps = 2.220446049250313e-16

// Brent finds a root of f in [lo, hi] to absolute tolerance xtol.
// f(lo) and f(hi) must have opposite signs.
func Brent(f func(float64) float64, lo, hi, xtol float64, maxIter int) (float64, error) {
	return BrentErr(func(x float64) (float64, error) { return f(x), nil }, lo, hi, xtol, maxIter)
}

// BrentErr is Brent for objective functions that can fail. The first error
// returned by f aborts the search and is returned unchanged.
func BrentErr(f func(float64) (float64, error), lo, hi, xtol float64, maxIter int) (float64, error) {
	a, b := lo, hi
	fa, err := f(a)
	if err != nil {
		return 0, err
	}
	fb, err := f(b)
	if err != nil {
		return 0, err
	}
	if fa == 0 {
		return a, nil
	}
	if fb == 0 {
		return b, nil
	}
	if math.IsNaN(fa) || math.IsNaN(fb) || (fa > 0) == (fb > 0) {
		return 0, simerr.Numerical("brent", map[string]float64{
			"lo": lo, "hi": hi, "f_lo": fa, "f_hi": fb,
		}, ErrNotBracketed)
	}

	c, fc := a, fa
	d := b - a
	e := d
	for i := 0; i < maxIter; i++ {
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}
		tol := 2*machEps*math.Abs(b) + 0.5*xtol
		m := 0.5 * (c - b)
		if math.Abs(m) <= tol || fb == 0 {
			return b, nil
		}
		if math.Abs(e) >= tol && math.Abs(fa) > math.Abs(fb) {
			s := fb / fa
			var p, q float64
			if a == c {
				p = 2 * m * s
				q = 1 - s
			} else {
				q = fa / fc
				r := fb / fc
				p = s * (2*m*q*(q-r) - (b-a)*(r-1))
				q = (q - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			} else {
				p = -p
			}
			if 2*p < math.Min(3*m*q-math.Abs(tol*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = m
				e = m
			}
		} else {
			d = m
			e = m
		}
		a, fa = b, fb
		switch {
		case math.Abs(d) > tol:
			b += d
		case m > 0:
			b += tol
		default:
			b -= tol
		}
		if fb, err = f(b); err != nil {
			return 0, err
		}
	}
	return b, simerr.Numerical("brent", map[string]float64{
		"lo": lo, "hi": hi, "x": b, "iterations": float64(maxIter),
	}, ErrNoConvergence)
}

// ExpandBracket multiplies x by factor, starting from start, until the sign of
// f differs from its sign at start. It returns the last two abscissae, which
// bracket a root. Giving up after maxSteps is a NumericalError.
func ExpandBracket(f func(float64) (float64, error), start, factor float64, maxSteps int) (float64, float64, error) {
	f0, err := f(start)
	if err != nil {
		return 0, 0, err
	}
	prev := start
	for i := 0; i < maxSteps; i++ {
		x := prev * factor
		fx, err := f(x)
		if err != nil {
			return 0, 0, err
		}
		if fx == 0 || (fx > 0) != (f0 > 0) {
			return prev, x, nil
		}
		prev = x
	}
	return 0, 0, simerr.Numerical("expand bracket", map[string]float64{
		"start": start, "factor": factor, "last": prev, "steps": float64(maxSteps),
	}, ErrNotBracketed)
}
