// Package simerr defines the error kinds shared by the pipeline stages.
//
// Callers match kinds with errors.Is:
//
//	if errors.Is(err, simerr.ErrConfiguration) { ... }
package simerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConfiguration marks unsupported modes, hierarchies or channels. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrData marks inconsistent or unusable tabulated data.
	ErrData = errors.New("data error")

	// ErrNumerical marks a root finder or quadrature that did not converge.
	ErrNumerical = errors.New("numerical error")

	// ErrOutOfDomain marks an interpolation request outside the computed grid.
	ErrOutOfDomain = errors.New("out of domain")
)

// Configf returns an ErrConfiguration with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Dataf returns an ErrData with a formatted message.
func Dataf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

// Domainf returns an ErrOutOfDomain with a formatted message.
func Domainf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOutOfDomain, fmt.Sprintf(format, args...))
}

// NumericalError reports a failed iterative computation together with the
// parameter values that produced it.
type NumericalError struct {
	Op     string
	Params map[string]float64
	Err    error
}

// Numerical builds a *NumericalError.
func Numerical(op string, params map[string]float64, err error) *NumericalError {
	return &NumericalError{Op: op, Params: params, Err: err}
}

func (e *NumericalError) Error() string {
	var b strings.Builder
	b.WriteString(ErrNumerical.Error())
	b.WriteString(": ")
	b.WriteString(e.Op)
	if len(e.Params) > 0 {
		keys := make([]string, 0, len(e.Params))
		for k := range e.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%g", k, e.Params[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *NumericalError) Unwrap() error { return e.Err }

// Is reports ErrNumerical as the kind of every NumericalError.
func (e *NumericalError) Is(target error) bool { return target == ErrNumerical }
