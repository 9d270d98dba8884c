package injection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/rcliao/dm21cm/internal/metrics"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/simerr"
)

// Defaults applied when the injection parameters leave them unset.
const (
	DefaultMinGeneratorECM = 10.0 // GeV
	DefaultEvents          = 10000
	DefaultAbortAfter      = 10
	DefaultConservationTol = 1e-3 // relative to E_cm
)

// tableMinLog10x is how far below the mass the table path looks for
// spectrum energy that misses the grid.
const tableMinLog10x = -12

// Cache stores generator spectra between runs.
type Cache interface {
	Get(ctx context.Context, key string) (*model.Spectrum, bool, error)
	Put(ctx context.Context, key string, s *model.Spectrum) error
}

// Builder selects and runs one of the three spectrum constructions. The
// zero value builds monochromatic spectra only.
type Builder struct {
	Generator       Generator
	Table           SpectralTable
	Cache           Cache
	Logger          *slog.Logger
	MinGeneratorECM float64
	// ConservationTol bounds the energy-momentum imbalance of a generated
	// event relative to E_cm. Zero means DefaultConservationTol.
	ConservationTol float64
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b *Builder) conservationTol() float64 {
	if b.ConservationTol > 0 {
		return b.ConservationTol
	}
	return DefaultConservationTol
}

func (b *Builder) minECM() float64 {
	if b.MinGeneratorECM > 0 {
		return b.MinGeneratorECM
	}
	return DefaultMinGeneratorECM
}

// Build picks the construction for inj: monochromatic below the generator
// threshold, the spectral table when requested or when it covers the mass
// in auto mode, and the event generator otherwise.
func (b *Builder) Build(ctx context.Context, inj model.InjectionParameters, grid Grid) (*model.Spectrum, error) {
	if err := inj.Validate(); err != nil {
		return nil, err
	}
	if inj.ECMGeV() < b.minECM() {
		return b.Monochromatic(inj, grid)
	}
	switch inj.Source {
	case model.SourceTable:
		return b.FromTable(inj, grid)
	case model.SourceGenerator:
		return b.cachedGenerator(ctx, inj, grid)
	}
	if b.Table != nil && b.Table.Covers(inj.Channel, inj.ECMGeV()/2) {
		return b.FromTable(inj, grid)
	}
	return b.cachedGenerator(ctx, inj, grid)
}

// CacheKey identifies a generator spectrum by everything that shapes it,
// including the generator backend.
func CacheKey(backend string, inj model.InjectionParameters, grid Grid) string {
	return fmt.Sprintf("spectrum/v2/%s/%.9g/%d/%d/%.9g/%.9g/%d|%s",
		inj.Channel, inj.ECMGeV(), inj.Events, inj.Seed,
		grid.Energy[0], grid.DlnE, len(grid.Energy), backend)
}

func (b *Builder) cachedGenerator(ctx context.Context, inj model.InjectionParameters, grid Grid) (*model.Spectrum, error) {
	log := b.logger()
	if b.Cache == nil {
		return b.FromGenerator(ctx, inj, grid)
	}
	key := CacheKey(GeneratorID(b.Generator), inj, grid)
	s, ok, err := b.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCache("error")
		log.Warn("spectrum cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	case ok:
		metrics.RecordCache("hit")
		metrics.RecordSpectrum("cache")
		log.Debug("spectrum cache hit", slog.String("key", key))
		return s, nil
	default:
		metrics.RecordCache("miss")
	}

	s, err = b.FromGenerator(ctx, inj, grid)
	if err != nil {
		return nil, err
	}
	if !s.Aborted {
		if err := b.Cache.Put(ctx, key, s); err != nil {
			log.Warn("spectrum cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return s, nil
}

// FromGenerator runs the event generator and accumulates the energy of
// every final-state particle into its species bucket. Fractions are
// normalised by the number of accepted events times the centre-of-mass
// energy. Failed events, and events whose final state does not conserve
// the resonance four-momentum, count towards AbortAfter; reaching it stops
// the run and returns the partial spectrum marked Aborted. A spectrum whose
// electron and photon energy all falls outside the grid is a data error.
func (b *Builder) FromGenerator(ctx context.Context, inj model.InjectionParameters, grid Grid) (*model.Spectrum, error) {
	log := b.logger()
	ecm := inj.ECMGeV()
	if ecm < b.minECM() {
		return nil, simerr.Configf("event generator needs E_cm >= %g GeV, got %g GeV", b.minECM(), ecm)
	}
	if b.Generator == nil {
		return nil, simerr.Configf("no event generator configured")
	}
	events := inj.Events
	if events <= 0 {
		events = DefaultEvents
	}
	abortAfter := inj.AbortAfter
	if abortAfter <= 0 {
		abortAfter = DefaultAbortAfter
	}

	stream, err := b.Generator.Generate(ctx, Request{
		Channel: inj.Channel,
		PDG:     model.ChannelPDG[inj.Channel],
		ECMGeV:  ecm,
		Events:  events,
		Seed:    inj.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("start generator: %w", err)
	}
	defer stream.Close()

	spec := model.NewSpectrum(grid.Energy, model.SourceGenerator)
	spec.Events = events
	tol := b.conservationTol()
	seen := map[int]bool{}
	for i := 0; i < events; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			log.Warn("generator stream ended early",
				slog.Int("requested", events), slog.Int("received", i))
			break
		}
		if err == nil && !ev.Conserves(ecm, tol) {
			sum := ev.Total()
			if spec.Unbalanced == 0 {
				log.Warn("generated event violates energy-momentum conservation",
					slog.Int("event", i),
					slog.Float64("e_gev", sum.E()),
					slog.Float64("p_gev", sum.P()),
					slog.Float64("ecm_gev", ecm))
			}
			spec.Unbalanced++
			err = fmt.Errorf("event %d: %w", i, ErrEventFailed)
		}
		if errors.Is(err, ErrEventFailed) {
			spec.Failures++
			if spec.Failures >= abortAfter {
				spec.Aborted = true
				break
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("generator event %d: %w", i, err)
		}
		spec.Accepted++
		for _, p := range ev.Particles {
			c := Classify(p.PDG)
			if c == ClassOther {
				spec.Anomalies++
				metrics.RecordAnomaly()
				if !seen[p.PDG] {
					seen[p.PDG] = true
					log.Warn("unclassified final-state particle", slog.Int("pdg", p.PDG), slog.Int("event", i))
				}
			}
			e := p.P.E() * 1e9 // eV
			if j := grid.Bin(e); j >= 0 {
				bucket(spec, c)[j] += e
			} else if c == ClassPhoton || c == ClassElectron {
				spec.OutOfGrid += e
			}
		}
	}

	if spec.Accepted > 0 {
		spec.Scale(1 / (float64(spec.Accepted) * ecm * 1e9))
	}
	metrics.RecordEvents(spec.Accepted, spec.Failures)
	metrics.RecordSpectrum(string(model.SourceGenerator))
	if spec.Aborted {
		metrics.RecordAborted()
		log.Warn("event generation aborted; spectrum has reduced statistics",
			slog.Int("accepted", spec.Accepted),
			slog.Int("failures", spec.Failures),
			slog.Int("unbalanced", spec.Unbalanced),
			slog.Int("requested", events))
	}
	if err := checkCoverage(spec, grid); err != nil {
		return nil, err
	}
	log.Info("generator spectrum built",
		slog.String("channel", inj.Channel.String()),
		slog.Float64("ecm_gev", ecm),
		slog.Int("accepted", spec.Accepted),
		slog.Float64("em_fraction", spec.EMFraction()))
	return spec, nil
}

// FromTable evaluates the spectral table on the grid:
//
//	frac_j = (E_j/E_cm)·dN/dlog10x(E_j/m)·dlnE/ln10
//
// with m = E_cm/2. Bins above m are zero. An interpolated spectrum carrying
// more than the available energy is rescaled with a warning. Electron and
// photon energy the table puts outside the grid is recorded in OutOfGrid;
// a spectrum with nothing left on the grid is a data error.
func (b *Builder) FromTable(inj model.InjectionParameters, grid Grid) (*model.Spectrum, error) {
	if b.Table == nil {
		return nil, simerr.Configf("no spectral table configured")
	}
	ecm := inj.ECMGeV()
	m := ecm / 2
	if !b.Table.Covers(inj.Channel, m) {
		return nil, simerr.Configf("spectral table does not cover %s at %g GeV", inj.Channel, m)
	}
	spec := model.NewSpectrum(grid.Energy, model.SourceTable)
	for _, c := range []Class{ClassPhoton, ClassElectron, ClassProton, ClassNeutrino, ClassOther} {
		dst := bucket(spec, c)
		for j, e := range grid.Energy {
			eGeV := e * 1e-9
			if eGeV > m {
				continue
			}
			dn := b.Table.DNdLog10x(c, inj.Channel, m, math.Log10(eGeV/m))
			dst[j] = eGeV / ecm * dn * grid.DlnE / math.Ln10
		}
	}
	spec.OutOfGrid = b.tableOutOfGrid(inj.Channel, m, grid)
	if tot := spec.Total(); tot > 1 {
		b.logger().Warn("table spectrum exceeds injected energy; rescaling",
			slog.String("channel", inj.Channel.String()),
			slog.Float64("mass_gev", m),
			slog.Float64("total", tot))
		spec.Scale(1 / tot)
	}
	if err := checkCoverage(spec, grid); err != nil {
		return nil, err
	}
	metrics.RecordSpectrum(string(model.SourceTable))
	return spec, nil
}

// tableOutOfGrid sums the electron and photon energy fraction of the table
// spectrum on the bins of the grid's spacing that lie outside the grid,
// from x = 1 down to x = 10^tableMinLog10x.
func (b *Builder) tableOutOfGrid(ch model.Channel, m float64, grid Grid) float64 {
	e0 := grid.Energy[0] * 1e-9 // GeV
	lo := int(math.Floor(math.Log(m*math.Pow(10, tableMinLog10x)/e0) / grid.DlnE))
	hi := int(math.Floor(math.Log(m/e0) / grid.DlnE))
	var out float64
	for j := lo; j <= hi; j++ {
		if j >= 0 && j < len(grid.Energy) {
			continue
		}
		eGeV := e0 * math.Exp(float64(j)*grid.DlnE)
		for _, c := range []Class{ClassPhoton, ClassElectron} {
			dn := b.Table.DNdLog10x(c, ch, m, math.Log10(eGeV/m))
			out += eGeV / (2 * m) * dn * grid.DlnE / math.Ln10
		}
	}
	return out
}

// checkCoverage rejects a spectrum that has electron or photon energy
// only outside the grid.
func checkCoverage(spec *model.Spectrum, grid Grid) error {
	if spec.OutOfGrid > 0 && spec.EMFraction() == 0 {
		return simerr.Dataf("%s spectrum lies entirely outside the energy grid [%g, %g] eV",
			spec.Source, grid.EMin(), grid.EMax())
	}
	return nil
}

// Monochromatic places the full weight in the single bin of the line
// energy: γγ and e⁺e⁻ at E_cm/2, and for μ⁺μ⁻ the decay electron at E_cm/6.
func (b *Builder) Monochromatic(inj model.InjectionParameters, grid Grid) (*model.Spectrum, error) {
	ecm := inj.ECMGeV() * 1e9
	spec := model.NewSpectrum(grid.Energy, model.SourceMonochromatic)
	var (
		dst  []float64
		line float64
	)
	switch inj.Channel {
	case model.ChannelGammaGamma:
		dst, line = spec.Photon, ecm/2
	case model.ChannelEE:
		dst, line = spec.Electron, ecm/2
	case model.ChannelMuMu:
		dst, line = spec.Electron, ecm/6
	default:
		return nil, simerr.Configf("channel %s has no monochromatic spectrum below E_cm = %g GeV",
			inj.Channel, b.minECM())
	}
	j := grid.Bin(line)
	if j < 0 {
		return nil, simerr.Dataf("line at %g eV is outside the energy grid [%g, %g] eV",
			line, grid.EMin(), grid.EMax())
	}
	dst[j] = 1
	metrics.RecordSpectrum(string(model.SourceMonochromatic))
	return spec, nil
}
