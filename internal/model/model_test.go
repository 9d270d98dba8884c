package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/dm21cm/internal/simerr"
)

func TestParseChannel(t *testing.T) {
	for in, want := range map[string]Channel{
		"bb": ChannelBB, "BB": ChannelBB, "2gam": ChannelGammaGamma, "ww": ChannelWW, "6": ChannelMuMu,
	} {
		got, err := ParseChannel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"gg", "0", "7", ""} {
		_, err := ParseChannel(in)
		assert.ErrorIs(t, err, simerr.ErrConfiguration, in)
	}
	assert.Equal(t, "channel(9)", Channel(9).String())
}

func TestChannelJSONUsesName(t *testing.T) {
	b, err := json.Marshal(InjectionParameters{Channel: ChannelTauTau})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"channel":"tautau"`)

	var p InjectionParameters
	require.NoError(t, json.Unmarshal([]byte(`{"channel":"4"}`), &p))
	assert.Equal(t, ChannelBB, p.Channel)
}

func TestECM(t *testing.T) {
	p := InjectionParameters{Process: Annihilation, MassGeV: 50}
	assert.Equal(t, 100.0, p.ECMGeV())
	assert.Equal(t, 1, p.Process.Mode())
	p.Process = Decay
	assert.Equal(t, 50.0, p.ECMGeV())
	assert.Equal(t, 2, p.Process.Mode())
}

func TestInjectionValidate(t *testing.T) {
	good := InjectionParameters{Process: Annihilation, MassGeV: 100, Channel: ChannelBB, SigmaV: 1e-26, Multiplicity: 2}
	require.NoError(t, good.Validate())

	for name, mutate := range map[string]func(*InjectionParameters){
		"process":      func(p *InjectionParameters) { p.Process = "scattering" },
		"mass":         func(p *InjectionParameters) { p.MassGeV = 0 },
		"channel":      func(p *InjectionParameters) { p.Channel = 0 },
		"multiplicity": func(p *InjectionParameters) { p.Multiplicity = -1 },
		"sigmav":       func(p *InjectionParameters) { p.SigmaV = -1e-26 },
		"decay rate":   func(p *InjectionParameters) { p.Process, p.DecayRate = Decay, -1 },
		"source":       func(p *InjectionParameters) { p.Source = SourceMonochromatic },
	} {
		p := good
		mutate(&p)
		assert.ErrorIs(t, p.Validate(), simerr.ErrConfiguration, name)
	}
}

func TestCosmologyValidate(t *testing.T) {
	require.NoError(t, DefaultCosmology().Validate())

	p := DefaultCosmology()
	p.Hierarchy = "sideways"
	assert.ErrorIs(t, p.Validate(), simerr.ErrConfiguration)

	p = DefaultCosmology()
	p.OmegaBH2 = 0
	assert.ErrorIs(t, p.Validate(), simerr.ErrConfiguration)
}

func TestSpectrumFractions(t *testing.T) {
	s := NewSpectrum([]float64{1, 10, 100}, SourceTable)
	s.Electron[0], s.Photon[2], s.Neutrino[1] = 0.2, 0.3, 0.4
	assert.InDelta(t, 0.5, s.EMFraction(), 1e-15)
	assert.InDelta(t, 0.9, s.Total(), 1e-15)

	s.Scale(0.5)
	assert.InDelta(t, 0.45, s.Total(), 1e-15)
}

func TestRunExcess(t *testing.T) {
	r := Run{DeltaTb: -0.15, Baseline: -0.2}
	assert.InDelta(t, 0.05, r.Excess(), 1e-15)
}
