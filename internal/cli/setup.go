package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/bbn"
	"github.com/rcliao/dm21cm/internal/deposition"
	"github.com/rcliao/dm21cm/internal/generator"
	"github.com/rcliao/dm21cm/internal/injection"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/pipeline"
	"github.com/rcliao/dm21cm/internal/recomb"
	"github.com/rcliao/dm21cm/internal/signal"
	"github.com/rcliao/dm21cm/internal/simerr"
	"github.com/rcliao/dm21cm/internal/speccache"
)

// loadChannels reads the configured deposition tables. The synthetic
// tables are used only when asked for.
func loadChannels() (*deposition.Channels, error) {
	switch {
	case cfg.Deposition.Synthetic && cfg.Deposition.Dir != "":
		return nil, simerr.Configf("deposition.dir and synthetic tables are mutually exclusive")
	case cfg.Deposition.Synthetic:
		logger.Warn("using synthetic deposition tables; results are not physical")
		elec, phot := deposition.Synthetic(deposition.DefaultSyntheticOptions())
		ch, err := deposition.NewChannels(deposition.ModeAnnihilation, elec, phot)
		if err != nil {
			return nil, err
		}
		ch.Origin = deposition.OriginSynthetic
		return ch, nil
	case cfg.Deposition.Dir == "":
		return nil, simerr.Configf("no deposition tables: set deposition.dir (or DM21CM_DEPOSITION_DIR), or pass --synthetic-tables")
	}
	return deposition.LoadChannels(cfg.Deposition.Dir, deposition.ModeAnnihilation, deposition.WithLogger(logger))
}

// newBuilder assembles the spectrum builder. The returned func releases the
// spectrum cache.
func newBuilder() (*injection.Builder, func(), error) {
	b := &injection.Builder{Logger: logger, MinGeneratorECM: cfg.Injection.MinGeneratorECM}
	cleanup := func() {}

	if cfg.Injection.Table != "" {
		tab, err := injection.LoadCSVTable(cfg.Injection.Table)
		if err != nil {
			return nil, cleanup, err
		}
		b.Table = tab
	}

	gen, err := generator.New(cfg.Injection.Generator)
	if err != nil {
		return nil, cleanup, err
	}
	b.Generator = gen

	if cfg.Injection.Cache.Enabled {
		c, err := speccache.Open(speccache.Config{
			Path:   cfg.Injection.Cache.Dir,
			TTL:    cfg.Injection.Cache.TTL,
			Logger: logger,
		})
		if err != nil {
			return nil, cleanup, err
		}
		b.Cache = c
		cleanup = func() {
			if err := c.Close(); err != nil {
				logger.Warn("close spectrum cache", slog.String("error", err.Error()))
			}
		}
	}
	return b, cleanup, nil
}

// preparePipeline builds everything a run needs from the loaded config.
func preparePipeline(ctx context.Context) (*pipeline.Prepared, func(), error) {
	ch, err := loadChannels()
	if err != nil {
		return nil, nil, err
	}
	clump, err := deposition.LoadClumping(cfg.Deposition.Clumping, logger)
	if err != nil {
		return nil, nil, err
	}
	rates, err := signal.LoadRates(cfg.Signal.KappaHH, cfg.Signal.KappaEH)
	if err != nil {
		return nil, nil, err
	}
	grid, err := cfg.SignalGrid()
	if err != nil {
		return nil, nil, err
	}

	b, cleanup, err := newBuilder()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithBuilder(b),
		pipeline.WithClumping(clump),
		pipeline.WithRates(rates),
		pipeline.WithSignal(grid),
		pipeline.WithLogger(logger),
		pipeline.WithTarget(cfg.Signal.Target),
		pipeline.WithSolver(&recomb.Peebles{
			ZStart: cfg.Recombination.ZStart,
			Steps:  cfg.Recombination.Steps,
			Logger: logger,
		}),
	}
	if cfg.Recombination.Helium != "" {
		tab, err := bbn.Load(cfg.Recombination.Helium)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithHelium(tab))
	}

	p, err := pipeline.Prepare(ctx, cfg.Cosmology, ch, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

// addInjectionFlags registers the flags shared by commands that build one
// injection scenario.
func addInjectionFlags(cmd *cobra.Command) {
	cmd.Flags().Float64P("mass", "m", 100, "Dark-matter mass in GeV")
	cmd.Flags().String("channel", "bb", "Final state: 2gam, ee, tautau, bb, WW, mumu")
	cmd.Flags().Float64("sigmav", 1e-26, "Annihilation cross-section in cm^3/s")
	cmd.Flags().String("process", string(model.Annihilation), "Process: annihilation or decay")
	cmd.Flags().Float64("decay-rate", 0, "Decay rate in 1/s")
	cmd.Flags().Float64("multiplicity", 0, "Particles per injection event (default from config)")
	cmd.Flags().Int("events", 0, "Generator events (default from config)")
	cmd.Flags().Int("abort-after", 0, "Total failed generator events before aborting (default from config)")
	cmd.Flags().Int64("seed", 0, "Generator seed")
	cmd.Flags().String("source", string(model.SourceAuto), "Spectrum source: auto, generator or table")
}

func readInjection(cmd *cobra.Command) (model.InjectionParameters, error) {
	f := cmd.Flags()
	mass, _ := f.GetFloat64("mass")
	chName, _ := f.GetString("channel")
	sigmav, _ := f.GetFloat64("sigmav")
	process, _ := f.GetString("process")
	decay, _ := f.GetFloat64("decay-rate")
	mult, _ := f.GetFloat64("multiplicity")
	events, _ := f.GetInt("events")
	abortAfter, _ := f.GetInt("abort-after")
	seed, _ := f.GetInt64("seed")
	source, _ := f.GetString("source")

	ch, err := model.ParseChannel(chName)
	if err != nil {
		return model.InjectionParameters{}, err
	}
	if mult == 0 {
		mult = cfg.Injection.Multiplicity
	}
	if events == 0 {
		events = cfg.Injection.Events
	}
	if abortAfter == 0 {
		abortAfter = cfg.Injection.AbortAfter
	}
	inj := model.InjectionParameters{
		Process:      model.Process(process),
		MassGeV:      mass,
		Channel:      ch,
		SigmaV:       sigmav,
		DecayRate:    decay,
		Multiplicity: mult,
		Events:       events,
		AbortAfter:   abortAfter,
		Seed:         seed,
		Source:       model.SpectrumSource(source),
	}
	return inj, inj.Validate()
}
