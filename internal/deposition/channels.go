// Package deposition loads the pre-tabulated energy-deposition transfer
// functions for injected electrons and photons and folds them against the
// expansion history into calibrated deposition fractions.
package deposition

import (
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/rcliao/dm21cm/internal/simerr"
)

// Mode numbers accepted by LoadChannels.
const (
	ModeAnnihilation = 1
	ModeDecay        = 2
)

// OriginSynthetic marks channels built from Synthetic tables.
const OriginSynthetic = "synthetic"

// Channels holds the electron and photon datasets on their shared output
// redshift and energy grids.
type Channels struct {
	Mode int
	// Origin names where the tables came from: the directory LoadChannels
	// read, OriginSynthetic, or empty when unknown.
	Origin   string
	Electron *Dataset
	Photon   *Dataset
	Z1Out    []float64
	Energy   []float64

	pow  float64
	dlnE float64
}

// Option configures LoadChannels.
type Option func(*loadSettings)

type loadSettings struct {
	readers []extReader
	logger  *slog.Logger
}

type extReader struct {
	ext string
	r   Reader
}

// WithReader registers r for files with the given extension (".fits").
// Registered readers are tried before the built-in ones, in order.
func WithReader(ext string, r Reader) Option {
	return func(s *loadSettings) {
		s.readers = append([]extReader{{ext, r}}, s.readers...)
	}
}

// WithLogger sets the logger used while loading.
func WithLogger(l *slog.Logger) Option {
	return func(s *loadSettings) { s.logger = l }
}

// LoadChannels reads <dir>/elec_processed_results.<ext> and
// <dir>/phot_processed_results.<ext>. Only annihilation (mode 1) is
// supported; any other mode fails before touching the filesystem.
func LoadChannels(dir string, mode int, opts ...Option) (*Channels, error) {
	var pow float64
	switch mode {
	case ModeAnnihilation:
		pow = 6
	case ModeDecay:
		return nil, simerr.Configf("deposition mode %d (decay) is not supported", mode)
	default:
		return nil, simerr.Configf("deposition mode %d is not supported; only annihilation (1)", mode)
	}

	s := loadSettings{
		readers: []extReader{{".fits", FITSReader{}}, {".json", JSONReader{}}},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	var sets [2]*Dataset
	for _, sp := range AllSpecies {
		path, r, err := locate(dir, FileStem(sp), s.readers)
		if err != nil {
			return nil, err
		}
		ds, err := r.ReadDataset(path)
		if err != nil {
			return nil, err
		}
		ds.Species = sp
		sets[sp] = ds
		s.logger.Info("deposition table loaded",
			slog.String("species", sp.String()),
			slog.String("path", path),
			slog.Int("subchannels", ds.TC.Shape[0]),
			slog.Int("z_in", len(ds.Z1In)),
			slog.Int("energies", len(ds.Energy)),
			slog.Int("z_out", len(ds.Z1Out)),
		)
	}
	ch, err := newChannels(mode, pow, sets[Electron], sets[Photon])
	if err != nil {
		return nil, err
	}
	ch.Origin = dir
	if abs, err := filepath.Abs(dir); err == nil {
		ch.Origin = abs
	}
	return ch, nil
}

// NewChannels assembles channels from datasets already in memory.
func NewChannels(mode int, elec, phot *Dataset) (*Channels, error) {
	if mode != ModeAnnihilation {
		return nil, simerr.Configf("deposition mode %d is not supported; only annihilation (1)", mode)
	}
	return newChannels(mode, 6, elec, phot)
}

func newChannels(mode int, pow float64, elec, phot *Dataset) (*Channels, error) {
	if !slices.Equal(elec.Z1Out, phot.Z1Out) || !slices.Equal(elec.Energy, phot.Energy) {
		return nil, simerr.Dataf("electron and photon tables have different output-redshift or energy grids")
	}
	elec.Species, phot.Species = Electron, Photon
	return &Channels{
		Mode:     mode,
		Electron: elec,
		Photon:   phot,
		Z1Out:    elec.Z1Out,
		Energy:   elec.Energy,
		pow:      pow,
		dlnE:     math.Log(elec.Energy[1] / elec.Energy[0]),
	}, nil
}

func locate(dir, stem string, readers []extReader) (string, Reader, error) {
	for _, er := range readers {
		path := filepath.Join(dir, stem+er.ext)
		if _, err := os.Stat(path); err == nil {
			return path, er.r, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, err
		}
	}
	return "", nil, simerr.Dataf("no deposition table %s in %s", stem, dir)
}

// Dataset returns the table of one species.
func (c *Channels) Dataset(s Species) *Dataset {
	if s == Photon {
		return c.Photon
	}
	return c.Electron
}

// Exponent is the redshift power of the injection rate density (6 for
// annihilation).
func (c *Channels) Exponent() float64 { return c.pow }

// DlnE is the logarithmic width of an energy bin.
func (c *Channels) DlnE() float64 { return c.dlnE }

// EMin is the lower edge of the first energy bin (eV).
func (c *Channels) EMin() float64 { return c.Energy[0] * math.Exp(-0.5*c.dlnE) }

// EMax is the upper edge of the last energy bin (eV).
func (c *Channels) EMax() float64 { return c.Energy[len(c.Energy)-1] * math.Exp(0.5*c.dlnE) }

// Edges returns the len(Energy)+1 logarithmic bin edges (eV).
func (c *Channels) Edges() []float64 {
	out := make([]float64, len(c.Energy)+1)
	for i, e := range c.Energy {
		out[i] = e * math.Exp(-0.5*c.dlnE)
	}
	out[len(c.Energy)] = c.EMax()
	return out
}

// NumSubchannels is the subchannel count shared by both species.
func (c *Channels) NumSubchannels() int {
	return min(c.Electron.TC.Shape[0], c.Photon.TC.Shape[0])
}
