package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/dm21cm/internal/metrics"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/simerr"
)

var errNonFinite = errors.New("non-finite signal")

// Scan runs every injection in injs with at most workers in flight.
// Results keep the input order. The first failure cancels the rest.
func Scan(ctx context.Context, p *Prepared, injs []model.InjectionParameters, workers int) ([]*Result, error) {
	if workers < 1 {
		workers = 1
	}
	start := time.Now()

	results := make([]*Result, len(injs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, inj := range injs {
		g.Go(func() error {
			metrics.ScanStarted()
			defer metrics.ScanFinished()
			res, err := p.Run(ctx, inj)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.s.logger.Info("scan finished",
		slog.Int("points", len(injs)),
		slog.Int("workers", workers),
		slog.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// Grid expands a mass by cross-section product around base.
func Grid(base model.InjectionParameters, masses, sigmavs []float64) []model.InjectionParameters {
	out := make([]model.InjectionParameters, 0, len(masses)*len(sigmavs))
	for _, m := range masses {
		for _, sv := range sigmavs {
			inj := base
			inj.MassGeV, inj.SigmaV = m, sv
			out = append(out, inj)
		}
	}
	return out
}

// CalibrateOptions bound the cross-section search.
type CalibrateOptions struct {
	Factor   float64 // geometric bracket step, > 1
	MaxSteps int     // bracket expansion steps
	RelTol   float64 // relative tolerance on σv
	MaxIter  int     // Brent iterations
}

// DefaultCalibrateOptions steps σv by e^0.7 per bracket expansion.
func DefaultCalibrateOptions() CalibrateOptions {
	return CalibrateOptions{Factor: math.Exp(0.7), MaxSteps: 40, RelTol: 1e-4, MaxIter: 60}
}

// Calibration is the cross-section whose signal excess matches a target.
type Calibration struct {
	SigmaV      float64
	Result      *Result
	Evaluations int
}

// Calibrate finds σv such that the injected signal excess at the target
// redshift equals target (kelvin, positive). The spectrum and fz are built
// once; each evaluation reruns recombination and the signal. The search
// starts from inj.SigmaV, expands geometrically until the target is
// bracketed, then solves in ln σv.
func Calibrate(ctx context.Context, p *Prepared, inj model.InjectionParameters, target float64, o CalibrateOptions) (*Calibration, error) {
	if !(target > 0) {
		return nil, simerr.Configf("calibration target must be a positive signal excess, got %g K", target)
	}
	if o.Factor <= 1 {
		o.Factor = DefaultCalibrateOptions().Factor
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultCalibrateOptions().MaxSteps
	}
	if o.RelTol <= 0 {
		o.RelTol = DefaultCalibrateOptions().RelTol
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultCalibrateOptions().MaxIter
	}
	start := inj.SigmaV
	if !(start > 0) {
		start = 1e-26
	}
	inj.SigmaV = start

	spec, fz, err := p.deposit(ctx, inj)
	if err != nil {
		return nil, err
	}
	if spec.EMFraction() == 0 {
		return nil, simerr.Dataf("spectrum for %s at %g GeV carries no electrons or photons", inj.Channel, inj.MassGeV)
	}

	cal := &Calibration{}
	objective := func(sigmav float64) (float64, error) {
		run := inj
		run.SigmaV = sigmav
		res, err := p.finish(ctx, run, spec, fz)
		if err != nil {
			return 0, err
		}
		cal.Evaluations++
		p.s.logger.Debug("calibration step",
			slog.Float64("sigma_v", sigmav),
			slog.Float64("excess_k", res.Excess))
		return res.Excess - target, nil
	}

	f0, err := objective(start)
	if err != nil {
		return nil, err
	}
	factor := o.Factor
	if f0 > 0 {
		factor = 1 / factor
	}
	a, b, err := numeric.ExpandBracket(objective, start, factor, o.MaxSteps)
	if err != nil {
		return nil, err
	}
	lo, hi := math.Log(min(a, b)), math.Log(max(a, b))
	lnSigma, err := numeric.BrentErr(func(x float64) (float64, error) {
		return objective(math.Exp(x))
	}, lo, hi, o.RelTol, o.MaxIter)
	if err != nil {
		return nil, err
	}

	cal.SigmaV = math.Exp(lnSigma)
	run := inj
	run.SigmaV = cal.SigmaV
	if cal.Result, err = p.finish(ctx, run, spec, fz); err != nil {
		return nil, err
	}
	p.s.logger.Info("cross-section calibrated",
		slog.String("channel", inj.Channel.String()),
		slog.Float64("mass_gev", inj.MassGeV),
		slog.Float64("target_k", target),
		slog.Float64("sigma_v", cal.SigmaV),
		slog.Int("evaluations", cal.Evaluations))
	return cal, nil
}
