package model

import (
	"strconv"
	"strings"

	"github.com/rcliao/dm21cm/internal/simerr"
)

// Process is the injection mechanism.
type Process string

const (
	Annihilation Process = "annihilation"
	Decay        Process = "decay"
)

// Mode returns the deposition-table mode number: 1 annihilation, 2 decay.
func (p Process) Mode() int {
	if p == Decay {
		return 2
	}
	return 1
}

// Channel is the two-body final state of the injecting process.
type Channel int

const (
	ChannelGammaGamma Channel = iota + 1
	ChannelEE
	ChannelTauTau
	ChannelBB
	ChannelWW
	ChannelMuMu
)

var channelNames = map[Channel]string{
	ChannelGammaGamma: "2gam",
	ChannelEE:         "ee",
	ChannelTauTau:     "tautau",
	ChannelBB:         "bb",
	ChannelWW:         "WW",
	ChannelMuMu:       "mumu",
}

// ChannelPDG maps each channel to the PDG id of its final-state particle.
var ChannelPDG = map[Channel]int{
	ChannelGammaGamma: 22,
	ChannelEE:         11,
	ChannelTauTau:     15,
	ChannelBB:         5,
	ChannelWW:         24,
	ChannelMuMu:       13,
}

func (c Channel) String() string {
	if s, ok := channelNames[c]; ok {
		return s
	}
	return "channel(" + strconv.Itoa(int(c)) + ")"
}

// Valid reports whether c is one of the supported final states.
func (c Channel) Valid() bool {
	_, ok := channelNames[c]
	return ok
}

// ParseChannel accepts a channel name ("bb", "2gam", ...) or its number.
func ParseChannel(s string) (Channel, error) {
	if n, err := strconv.Atoi(s); err == nil {
		c := Channel(n)
		if !c.Valid() {
			return 0, simerr.Configf("unknown channel %d", n)
		}
		return c, nil
	}
	for c, name := range channelNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return 0, simerr.Configf("unknown channel %q", s)
}

// MarshalText encodes the channel by name.
func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a channel name or number.
func (c *Channel) UnmarshalText(b []byte) error {
	v, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// SpectrumSource selects, or records, how an injection spectrum was built.
type SpectrumSource string

const (
	SourceAuto          SpectrumSource = "auto"
	SourceGenerator     SpectrumSource = "generator"
	SourceTable         SpectrumSource = "table"
	SourceMonochromatic SpectrumSource = "monochromatic"
)

// ValidSources are the sources a caller may request.
var ValidSources = map[SpectrumSource]bool{
	SourceAuto:      true,
	SourceGenerator: true,
	SourceTable:     true,
}

// InjectionParameters describe one dark-matter injection scenario.
type InjectionParameters struct {
	Process      Process        `json:"process" yaml:"process"`
	MassGeV      float64        `json:"mass_gev" yaml:"mass_gev"`
	Channel      Channel        `json:"channel" yaml:"channel"`
	SigmaV       float64        `json:"sigma_v_cm3s,omitempty" yaml:"sigma_v_cm3s"`
	DecayRate    float64        `json:"decay_rate,omitempty" yaml:"decay_rate"`
	Multiplicity float64        `json:"multiplicity" yaml:"multiplicity"`
	Events       int            `json:"events" yaml:"events"`
	AbortAfter   int            `json:"abort_after" yaml:"abort_after"`
	Seed         int64          `json:"seed" yaml:"seed"`
	Source       SpectrumSource `json:"source" yaml:"source"`
}

// ECMGeV is the centre-of-mass energy handed to the event generator.
func (p InjectionParameters) ECMGeV() float64 {
	if p.Process == Decay {
		return p.MassGeV
	}
	return 2 * p.MassGeV
}

// Validate checks the scenario before any spectrum is built.
func (p InjectionParameters) Validate() error {
	switch {
	case p.Process != Annihilation && p.Process != Decay:
		return simerr.Configf("unknown process %q", p.Process)
	case p.MassGeV <= 0:
		return simerr.Configf("mass must be positive, got %g GeV", p.MassGeV)
	case !p.Channel.Valid():
		return simerr.Configf("unsupported channel %s", p.Channel)
	case p.Multiplicity <= 0:
		return simerr.Configf("multiplicity must be positive, got %g", p.Multiplicity)
	case p.Process == Annihilation && p.SigmaV < 0:
		return simerr.Configf("sigma_v must be non-negative, got %g", p.SigmaV)
	case p.Process == Decay && p.DecayRate < 0:
		return simerr.Configf("decay rate must be non-negative, got %g", p.DecayRate)
	case p.Source != "" && !ValidSources[p.Source]:
		return simerr.Configf("unknown spectrum source %q", p.Source)
	}
	return nil
}
