// Package pipeline wires the stages together: a Prepared holds the
// read-only state shared by every run (expansion history, calibrated
// deposition fractions, rate tables and a no-injection reference signal),
// and Run maps injection parameters to a 21-cm signal.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/rcliao/dm21cm/internal/background"
	"github.com/rcliao/dm21cm/internal/bbn"
	"github.com/rcliao/dm21cm/internal/deposition"
	"github.com/rcliao/dm21cm/internal/injection"
	"github.com/rcliao/dm21cm/internal/metrics"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/recomb"
	"github.com/rcliao/dm21cm/internal/signal"
	"github.com/rcliao/dm21cm/internal/simerr"
	"github.com/rcliao/dm21cm/internal/thermal"
)

// DefaultTarget is the redshift at which the signal is reported.
const DefaultTarget = 17.0

// Option configures Prepare.
type Option func(*settings)

type settings struct {
	builder *injection.Builder
	solver  thermal.Solver
	clump   func(float64) float64
	signal  signal.Config
	rates   *signal.Rates
	helium  bbn.Lookup
	logger  *slog.Logger
	target  float64
}

// WithBuilder sets the spectrum builder. The default builds monochromatic
// spectra only.
func WithBuilder(b *injection.Builder) Option {
	return func(s *settings) { s.builder = b }
}

// WithSolver replaces the default Peebles recombination solver.
func WithSolver(sv thermal.Solver) Option {
	return func(s *settings) { s.solver = sv }
}

// WithClumping sets the clumping factor as a function of redshift.
func WithClumping(f func(z float64) float64) Option {
	return func(s *settings) { s.clump = f }
}

// WithSignal sets the 21-cm grid and coupling.
func WithSignal(c signal.Config) Option {
	return func(s *settings) { s.signal = c }
}

// WithRates replaces the embedded collisional rate tables.
func WithRates(r *signal.Rates) Option {
	return func(s *settings) { s.rates = r }
}

// WithHelium replaces the embedded helium-fraction table.
func WithHelium(l bbn.Lookup) Option {
	return func(s *settings) { s.helium = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTarget sets the redshift at which the signal is reported.
func WithTarget(z float64) Option {
	return func(s *settings) { s.target = z }
}

// Prepared is the shared state of a set of runs. It is immutable and safe
// for concurrent use.
type Prepared struct {
	Background *background.Background
	Calibrated *deposition.Calibrated
	Grid       injection.Grid
	Baseline   *signal.Trace

	baselineTb float64
	s          settings
}

// Prepare builds the expansion history for cosmo, calibrates ch against it
// and computes the no-injection reference signal.
func Prepare(ctx context.Context, cosmo model.CosmologicalParameters, ch *deposition.Channels, opts ...Option) (*Prepared, error) {
	s := settings{
		builder: &injection.Builder{},
		signal:  signal.DefaultConfig(),
		logger:  slog.Default(),
		target:  DefaultTarget,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.solver == nil {
		s.solver = &recomb.Peebles{ZStart: recomb.DefaultZStart, Steps: recomb.DefaultSteps, Logger: s.logger}
	}
	if s.rates == nil {
		s.rates = signal.DefaultRates()
	}
	if ch.Mode != deposition.ModeAnnihilation {
		return nil, simerr.Configf("deposition mode %d is not supported", ch.Mode)
	}

	start := time.Now()
	bgOpts := []background.Option{background.WithLogger(s.logger)}
	if s.helium != nil {
		bgOpts = append(bgOpts, background.WithHelium(s.helium))
	}
	bg, err := background.New(cosmo, bgOpts...)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("background", start)

	grid, err := injection.NewGrid(ch.Energy)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	cal := ch.Calibrate(bg.DtauDa, s.clump)
	metrics.ObserveStage("calibrate", start)

	p := &Prepared{Background: bg, Calibrated: cal, Grid: grid, s: s}
	hist, err := s.solver.Solve(ctx, thermal.RecInput{Background: bg, Rates: thermal.Zero()})
	if err != nil {
		return nil, err
	}
	p.Baseline, err = signal.Compute(ctx, bg, hist, s.rates, s.signal)
	if err != nil {
		return nil, err
	}
	if p.baselineTb, err = p.Baseline.At(s.target); err != nil {
		return nil, err
	}
	s.logger.Info("pipeline prepared",
		slog.Float64("h", bg.LittleH()),
		slog.Float64("yp", bg.Yp()),
		slog.Int("z_out", len(ch.Z1Out)),
		slog.Int("energies", len(ch.Energy)),
		slog.Float64("z_target", s.target),
		slog.Float64("delta_tb_baseline_k", p.baselineTb),
	)
	return p, nil
}

// Target is the redshift at which signals are reported.
func (p *Prepared) Target() float64 { return p.s.target }

// Result is the outcome of one run.
type Result struct {
	Injection model.InjectionParameters
	Spectrum  *model.Spectrum
	Fz        *thermal.Fz
	Rates     *thermal.SourceRates
	History   thermal.History
	Trace     *signal.Trace

	ZTarget float64
	// DeltaTb is δT_b at ZTarget in kelvin.
	DeltaTb float64
	// Baseline is δT_b at ZTarget without injection.
	Baseline float64
	// Excess is DeltaTb - Baseline, the signal attributable to injection.
	Excess  float64
	Aborted bool
	// Tables is the origin of the deposition tables.
	Tables string
}

// Run builds the injection spectrum and carries it through deposition,
// recombination and the 21-cm calculation.
func (p *Prepared) Run(ctx context.Context, inj model.InjectionParameters) (*Result, error) {
	spec, fz, err := p.deposit(ctx, inj)
	if err != nil {
		metrics.RecordRun("error")
		return nil, err
	}
	res, err := p.finish(ctx, inj, spec, fz)
	if err != nil {
		metrics.RecordRun("error")
		return nil, err
	}
	if res.Aborted {
		metrics.RecordRun("aborted")
	} else {
		metrics.RecordRun("ok")
	}
	return res, nil
}

// deposit builds the spectrum and folds it into fz. Neither depends on the
// injection rate.
func (p *Prepared) deposit(ctx context.Context, inj model.InjectionParameters) (*model.Spectrum, *thermal.Fz, error) {
	if mode := p.Calibrated.Channels.Mode; inj.Process.Mode() != mode {
		return nil, nil, simerr.Configf("process %q does not match deposition tables of mode %d", inj.Process, mode)
	}
	start := time.Now()
	spec, err := p.s.builder.Build(ctx, inj, p.Grid)
	if err != nil {
		return nil, nil, err
	}
	metrics.ObserveStage("spectrum", start)
	if spec.Aborted {
		p.s.logger.Warn("injection spectrum built from reduced statistics",
			slog.String("channel", inj.Channel.String()),
			slog.Float64("mass_gev", inj.MassGeV),
			slog.Int("accepted", spec.Accepted),
			slog.Int("failures", spec.Failures))
	}

	start = time.Now()
	fz, err := thermal.IntegrateDeposition(p.Calibrated, spec)
	if err != nil {
		return nil, nil, err
	}
	metrics.ObserveStage("deposition", start)
	return spec, fz, nil
}

func (p *Prepared) finish(ctx context.Context, inj model.InjectionParameters, spec *model.Spectrum, fz *thermal.Fz) (*Result, error) {
	rates := thermal.DeriveSourceRates(p.Background, inj, fz)

	start := time.Now()
	hist, err := p.s.solver.Solve(ctx, thermal.RecInput{Background: p.Background, Rates: rates})
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("recombination", start)

	start = time.Now()
	tr, err := signal.Compute(ctx, p.Background, hist, p.s.rates, p.s.signal)
	if err != nil {
		return nil, err
	}
	dtb, err := tr.At(p.s.target)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("signal", start)
	if math.IsNaN(dtb) || math.IsInf(dtb, 0) {
		return nil, simerr.Numerical("signal", map[string]float64{
			"z_target": p.s.target, "mass_gev": inj.MassGeV, "sigma_v": inj.SigmaV,
		}, errNonFinite)
	}

	return &Result{
		Injection: inj,
		Spectrum:  spec,
		Fz:        fz,
		Rates:     rates,
		History:   hist,
		Trace:     tr,
		ZTarget:   p.s.target,
		DeltaTb:   dtb,
		Baseline:  p.baselineTb,
		Excess:    dtb - p.baselineTb,
		Aborted:   spec.Aborted,
		Tables:    p.Calibrated.Channels.Origin,
	}, nil
}

// Record converts r into a storable run.
func (r *Result) Record(cosmo model.CosmologicalParameters, label string) *model.Run {
	return &model.Run{
		Label:     label,
		Cosmology: cosmo,
		Injection: r.Injection,
		Source:    r.Spectrum.Source,
		Tables:    r.Tables,
		Aborted:   r.Aborted,
		ZTarget:   r.ZTarget,
		DeltaTb:   r.DeltaTb,
		Baseline:  r.Baseline,
		Fz:        r.Fz.Rows(),
		Trace:     r.Trace.Points,
	}
}
