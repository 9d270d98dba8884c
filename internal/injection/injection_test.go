package injection

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/fmom"

	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/simerr"
)

func testGrid(t *testing.T) Grid {
	t.Helper()
	g, err := NewGrid(numeric.LogSpace(1e3, 1e12, 40))
	require.NoError(t, err)
	return g
}

// particle is massless and moves along +z (dir 1) or -z (dir -1).
func particle(pdg int, eGeV, dir float64) Particle {
	return Particle{PDG: pdg, P: fmom.NewPxPyPzE(0, 0, dir*eGeV, eGeV)}
}

type fakeGenerator struct {
	event    Event
	failFrom int // events at or after this index fail; 0 never fails
	calls    int
	last     Request
}

func (g *fakeGenerator) Generate(_ context.Context, req Request) (EventStream, error) {
	g.calls++
	g.last = req
	return &fakeStream{g: g, n: req.Events}, nil
}

type fakeStream struct {
	g    *fakeGenerator
	i, n int
}

func (s *fakeStream) Next() (Event, error) {
	if s.i >= s.n {
		return Event{}, io.EOF
	}
	i := s.i
	s.i++
	if s.g.failFrom > 0 && i >= s.g.failFrom {
		return Event{}, ErrEventFailed
	}
	return s.g.event, nil
}

func (s *fakeStream) Close() error { return nil }

// hundredGeVEvent splits E_cm = 100 GeV over every species bucket with
// zero net momentum.
func hundredGeVEvent() Event {
	return Event{Particles: []Particle{
		particle(22, 40, 1),
		particle(11, 30, -1),
		particle(-11, 20, -1),
		particle(14, 5, 1),
		particle(-2212, 3, 1),
		particle(211, 2, 1),
	}}
}

func annihilation(mass float64, ch model.Channel) model.InjectionParameters {
	return model.InjectionParameters{
		Process:      model.Annihilation,
		MassGeV:      mass,
		Channel:      ch,
		SigmaV:       1e-26,
		Multiplicity: 1,
		Events:       50,
		AbortAfter:   5,
	}
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestClassify(t *testing.T) {
	cases := map[int]Class{
		22: ClassPhoton, 11: ClassElectron, -11: ClassElectron,
		2212: ClassProton, -2212: ClassProton,
		12: ClassNeutrino, -14: ClassNeutrino, 16: ClassNeutrino,
		211: ClassOther, 13: ClassOther, 2112: ClassOther,
	}
	for pdg, want := range cases {
		assert.Equal(t, want, Classify(pdg), "pdg %d", pdg)
	}
}

func TestGridBins(t *testing.T) {
	g := testGrid(t)
	assert.Equal(t, 0, g.Bin(1e3))
	assert.Equal(t, 39, g.Bin(1e12))
	assert.Equal(t, -1, g.Bin(0.5*g.EMin()))
	assert.Equal(t, -1, g.Bin(g.EMax()))
	assert.Equal(t, -1, g.Bin(0))

	_, err := NewGrid([]float64{1, 2, 5})
	assert.ErrorIs(t, err, simerr.ErrData)
}

func TestFromGeneratorEnergyFractions(t *testing.T) {
	gen := &fakeGenerator{event: hundredGeVEvent()}
	b := &Builder{Generator: gen}

	spec, err := b.FromGenerator(context.Background(), annihilation(50, model.ChannelBB), testGrid(t))
	require.NoError(t, err)

	assert.Equal(t, 100.0, gen.last.ECMGeV)
	assert.Equal(t, model.ChannelBB, gen.last.Channel)
	assert.Equal(t, 5, gen.last.PDG)
	assert.Equal(t, 50, spec.Accepted)
	assert.False(t, spec.Aborted)
	assert.Equal(t, 50, spec.Anomalies)

	assert.InDelta(t, 0.40, sum(spec.Photon), 1e-12)
	assert.InDelta(t, 0.50, sum(spec.Electron), 1e-12)
	assert.InDelta(t, 0.05, sum(spec.Neutrino), 1e-12)
	assert.InDelta(t, 0.03, sum(spec.Proton), 1e-12)
	assert.InDelta(t, 0.02, sum(spec.Other), 1e-12)
	assert.InDelta(t, 1.0, spec.Total(), 1e-12)
	assert.LessOrEqual(t, spec.EMFraction(), 1.0)
	assert.Zero(t, spec.OutOfGrid)
	assert.Zero(t, spec.Unbalanced)
}

func TestEventConservation(t *testing.T) {
	ev := hundredGeVEvent()
	sum := ev.Total()
	assert.InDelta(t, 100.0, sum.E(), 1e-12)
	assert.InDelta(t, 0.0, sum.P(), 1e-12)
	assert.True(t, ev.Conserves(100, 1e-3))
	assert.False(t, ev.Conserves(120, 1e-3))

	lopsided := Event{Particles: []Particle{particle(22, 50, 1), particle(22, 50, 1)}}
	assert.False(t, lopsided.Conserves(100, 1e-3))
}

func TestFromGeneratorCountsUnbalancedEvents(t *testing.T) {
	gen := &fakeGenerator{event: Event{Particles: []Particle{particle(22, 40, 1), particle(11, 60, 1)}}}
	b := &Builder{Generator: gen}

	spec, err := b.FromGenerator(context.Background(), annihilation(50, model.ChannelBB), testGrid(t))
	require.NoError(t, err)
	assert.True(t, spec.Aborted)
	assert.Equal(t, 5, spec.Failures)
	assert.Equal(t, 5, spec.Unbalanced)
	assert.Zero(t, spec.Accepted)
	assert.Zero(t, spec.Total())
}

func TestFromGeneratorOutsideGrid(t *testing.T) {
	g := testGrid(t)

	// Both leptons carry 5 TeV, above the 1.3 TeV top of the grid.
	gen := &fakeGenerator{event: Event{Particles: []Particle{particle(11, 5000, 1), particle(-11, 5000, -1)}}}
	b := &Builder{Generator: gen}
	_, err := b.FromGenerator(context.Background(), annihilation(5000, model.ChannelEE), g)
	assert.ErrorIs(t, err, simerr.ErrData)

	// Only the electron misses the grid.
	gen.event = Event{Particles: []Particle{
		particle(11, 2000, 1),
		particle(22, 1000, -1),
		particle(12, 1000, -1),
	}}
	spec, err := b.FromGenerator(context.Background(), annihilation(2000, model.ChannelWW), g)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, spec.EMFraction(), 1e-12)
	assert.InDelta(t, 0.5, spec.OutOfGrid, 1e-12)
}

func TestFromGeneratorAbortKeepsPartialSpectrum(t *testing.T) {
	gen := &fakeGenerator{event: hundredGeVEvent(), failFrom: 7}
	b := &Builder{Generator: gen}

	spec, err := b.FromGenerator(context.Background(), annihilation(50, model.ChannelBB), testGrid(t))
	require.NoError(t, err)
	assert.True(t, spec.Aborted)
	assert.Equal(t, 7, spec.Accepted)
	assert.Equal(t, 5, spec.Failures)
	assert.InDelta(t, 0.40, sum(spec.Photon), 1e-12)
}

func TestFromGeneratorRequiresTenGeV(t *testing.T) {
	b := &Builder{Generator: &fakeGenerator{}}
	_, err := b.FromGenerator(context.Background(), annihilation(4, model.ChannelBB), testGrid(t))
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	b = &Builder{}
	_, err = b.FromGenerator(context.Background(), annihilation(50, model.ChannelBB), testGrid(t))
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestFromGeneratorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &Builder{Generator: &fakeGenerator{event: hundredGeVEvent()}}
	_, err := b.FromGenerator(ctx, annihilation(50, model.ChannelBB), testGrid(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMonochromatic(t *testing.T) {
	g := testGrid(t)
	b := &Builder{}

	spec, err := b.Monochromatic(annihilation(1, model.ChannelGammaGamma), g)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sum(spec.Photon))
	assert.Equal(t, 1.0, spec.Photon[g.Bin(1e9)])
	assert.Zero(t, sum(spec.Electron))
	assert.Equal(t, model.SourceMonochromatic, spec.Source)

	// The muon-decay electron line sits at m/3 with the full weight.
	spec, err = b.Monochromatic(annihilation(3, model.ChannelMuMu), g)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sum(spec.Electron))
	assert.Equal(t, 1.0, spec.Electron[g.Bin(1e9)])

	decay := annihilation(2, model.ChannelEE)
	decay.Process = model.Decay
	spec, err = b.Monochromatic(decay, g)
	require.NoError(t, err)
	assert.Equal(t, 1.0, spec.Electron[g.Bin(1e9)])

	_, err = b.Monochromatic(annihilation(1, model.ChannelBB), g)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	_, err = b.Monochromatic(annihilation(1e-7, model.ChannelEE), g)
	assert.ErrorIs(t, err, simerr.ErrData)
}

// gaussTable writes a bb table with a Gaussian in log10x at two masses.
func gaussTable(amp float64) string {
	var sb strings.Builder
	sb.WriteString("species,channel,mass,log10x,dndlog10x\n")
	for _, species := range []string{"photon", "electron"} {
		for _, m := range []float64{50, 200} {
			for i := 0; i <= 60; i++ {
				lx := -6 + 0.1*float64(i)
				dn := amp * math.Exp(-(lx+1.5)*(lx+1.5))
				if species == "electron" {
					dn *= 0.5
				}
				fmt.Fprintf(&sb, "%s,bb,%g,%.2f,%.8g\n", species, m, lx, dn)
			}
		}
	}
	return sb.String()
}

func TestFromTable(t *testing.T) {
	tab, err := ParseCSVTable(strings.NewReader(gaussTable(1)))
	require.NoError(t, err)
	g := testGrid(t)
	b := &Builder{Table: tab}

	assert.True(t, tab.Covers(model.ChannelBB, 100))
	assert.False(t, tab.Covers(model.ChannelBB, 300))
	assert.False(t, tab.Covers(model.ChannelWW, 100))

	spec, err := b.FromTable(annihilation(100, model.ChannelBB), g)
	require.NoError(t, err)
	em := spec.EMFraction()
	assert.Greater(t, em, 0.0)
	assert.LessOrEqual(t, em, 1.0)
	assert.InDelta(t, 2.0, sum(spec.Photon)/sum(spec.Electron), 1e-6)

	for j, e := range g.Energy {
		if e > 100e9 || e < 100e9*1e-6 {
			assert.Zero(t, spec.Photon[j], "E=%g", e)
		}
	}

	assert.Zero(t, spec.OutOfGrid)

	_, err = b.FromTable(annihilation(1000, model.ChannelBB), g)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestFromTableOutsideGrid(t *testing.T) {
	tab, err := ParseCSVTable(strings.NewReader(gaussTable(1)))
	require.NoError(t, err)
	b := &Builder{Table: tab}

	// The table spans 100 keV to 100 GeV at m = 100 GeV; this grid stops at 10 keV.
	low, err := NewGrid(numeric.LogSpace(1e3, 1e4, 10))
	require.NoError(t, err)
	_, err = b.FromTable(annihilation(100, model.ChannelBB), low)
	assert.ErrorIs(t, err, simerr.ErrData)

	// The peak near 3 GeV lies above this grid but the low tail is on it.
	partial, err := NewGrid(numeric.LogSpace(1e3, 1e9, 25))
	require.NoError(t, err)
	spec, err := b.FromTable(annihilation(100, model.ChannelBB), partial)
	require.NoError(t, err)
	assert.Greater(t, spec.EMFraction(), 0.0)
	assert.Greater(t, spec.OutOfGrid, spec.EMFraction())
}

func TestFromTableMassInterpolation(t *testing.T) {
	tab, err := ParseCSVTable(strings.NewReader(gaussTable(1)))
	require.NoError(t, err)

	at50 := tab.DNdLog10x(ClassPhoton, model.ChannelBB, 50, -1.5)
	at100 := tab.DNdLog10x(ClassPhoton, model.ChannelBB, 100, -1.5)
	assert.InDelta(t, 1.0, at50, 1e-9)
	assert.InDelta(t, at50, at100, 1e-9)
	assert.Zero(t, tab.DNdLog10x(ClassPhoton, model.ChannelBB, 100, 0.5))
	assert.Zero(t, tab.DNdLog10x(ClassProton, model.ChannelBB, 100, -1.5))
}

func TestFromTableRescalesOvershoot(t *testing.T) {
	tab, err := ParseCSVTable(strings.NewReader(gaussTable(50)))
	require.NoError(t, err)
	b := &Builder{Table: tab}

	spec, err := b.FromTable(annihilation(100, model.ChannelBB), testGrid(t))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, spec.Total(), 1e-12)
}

func TestParseCSVTableErrors(t *testing.T) {
	_, err := ParseCSVTable(strings.NewReader("species,channel,mass\nphoton,bb,10\n"))
	assert.ErrorIs(t, err, simerr.ErrData)

	_, err = ParseCSVTable(strings.NewReader("species,channel,mass,log10x,dndlog10x\ngluon,bb,10,-1,1\n"))
	assert.ErrorIs(t, err, simerr.ErrData)

	_, err = ParseCSVTable(strings.NewReader("species,channel,mass,log10x,dndlog10x\nphoton,zz,10,-1,1\n"))
	assert.ErrorIs(t, err, simerr.ErrData)
}

type mapCache struct {
	m    map[string]*model.Spectrum
	puts int
}

func (c *mapCache) Get(_ context.Context, key string) (*model.Spectrum, bool, error) {
	s, ok := c.m[key]
	return s, ok, nil
}

func (c *mapCache) Put(_ context.Context, key string, s *model.Spectrum) error {
	c.puts++
	c.m[key] = s
	return nil
}

type namedGenerator struct {
	*fakeGenerator
	id string
}

func (g namedGenerator) ID() string { return g.id }

func TestBuildDispatch(t *testing.T) {
	tab, err := ParseCSVTable(strings.NewReader(gaussTable(1)))
	require.NoError(t, err)
	gen := &fakeGenerator{event: hundredGeVEvent()}
	b := &Builder{Generator: gen, Table: tab}
	g := testGrid(t)
	ctx := context.Background()

	spec, err := b.Build(ctx, annihilation(1, model.ChannelGammaGamma), g)
	require.NoError(t, err)
	assert.Equal(t, model.SourceMonochromatic, spec.Source)

	spec, err = b.Build(ctx, annihilation(100, model.ChannelBB), g)
	require.NoError(t, err)
	assert.Equal(t, model.SourceTable, spec.Source)

	spec, err = b.Build(ctx, annihilation(500, model.ChannelBB), g)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGenerator, spec.Source)

	forced := annihilation(100, model.ChannelBB)
	forced.Source = model.SourceGenerator
	spec, err = b.Build(ctx, forced, g)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGenerator, spec.Source)
	assert.Equal(t, 2, gen.calls)

	noTable := &Builder{Generator: gen}
	forced.Source = model.SourceTable
	_, err = noTable.Build(ctx, forced, g)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	bad := annihilation(100, model.Channel(9))
	_, err = b.Build(ctx, bad, g)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestBuildCachesCompletedSpectra(t *testing.T) {
	gen := &fakeGenerator{event: hundredGeVEvent()}
	cache := &mapCache{m: map[string]*model.Spectrum{}}
	b := &Builder{Generator: gen, Cache: cache}
	g := testGrid(t)
	inj := annihilation(50, model.ChannelBB)

	first, err := b.Build(context.Background(), inj, g)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), inj, g)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Same(t, first, second)

	gen.failFrom = 1
	inj.Seed = 99
	spec, err := b.Build(context.Background(), inj, g)
	require.NoError(t, err)
	assert.True(t, spec.Aborted)
	assert.Equal(t, 1, cache.puts)
}

func TestCacheKeySeparatesBackends(t *testing.T) {
	gen := &fakeGenerator{event: hundredGeVEvent()}
	cache := &mapCache{m: map[string]*model.Spectrum{}}
	g := testGrid(t)
	inj := annihilation(50, model.ChannelBB)

	a := &Builder{Generator: namedGenerator{gen, "exec:pythia-a"}, Cache: cache}
	_, err := a.Build(context.Background(), inj, g)
	require.NoError(t, err)
	b := &Builder{Generator: namedGenerator{gen, "http:http://gen.local"}, Cache: cache}
	_, err = b.Build(context.Background(), inj, g)
	require.NoError(t, err)
	_, err = a.Build(context.Background(), inj, g)
	require.NoError(t, err)

	assert.Equal(t, 2, gen.calls)
	assert.Len(t, cache.m, 2)
	assert.NotEqual(t, CacheKey("exec:pythia-a", inj, g), CacheKey("http:http://gen.local", inj, g))
	assert.Equal(t, "*injection.fakeGenerator", GeneratorID(gen))
}
