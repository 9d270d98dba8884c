package deposition

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/astrogo/fitsio"

	"github.com/rcliao/dm21cm/internal/simerr"
)

// Species is the injected particle a deposition table applies to.
type Species int

const (
	Electron Species = iota
	Photon
)

// AllSpecies in file order.
var AllSpecies = []Species{Electron, Photon}

var speciesPrefix = map[Species]string{
	Electron: "elec",
	Photon:   "phot",
}

// FileStem is the table file name of species sp without extension.
func FileStem(sp Species) string { return speciesPrefix[sp] + "_processed_results" }

func (s Species) String() string {
	if s == Photon {
		return "photon"
	}
	return "electron"
}

// Subchannel indices of the deposition tensors.
const (
	HIon = iota
	HeIon
	Exc
	Heat
	Cont
	NumSubchannels
)

// SubchannelNames label the subchannels in artifacts.
var SubchannelNames = [NumSubchannels]string{"h_ion", "he_ion", "exc", "heat", "continuum"}

// Dataset is the deposition table of one species. TC is indexed
// (subchannel, input redshift, energy, output redshift); redshifts are
// stored as 1+z and energies in eV.
type Dataset struct {
	Species  Species
	Z1Out    []float64
	Energy   []float64
	Z1In     []float64
	Channels []string
	TC       Tensor4
	FIon     []float64 // (energy, output redshift), total ionization cross-check
}

// FIonAt returns the cross-check ionization fraction at energy j and output redshift i.
func (d *Dataset) FIonAt(j, i int) float64 {
	return d.FIon[j*len(d.Z1Out)+i]
}

// Reader decodes one species' deposition file.
type Reader interface {
	ReadDataset(path string) (*Dataset, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) (*Dataset, error)

func (f ReaderFunc) ReadDataset(path string) (*Dataset, error) { return f(path) }

// fitsRecord is the single row of the binary table in HDU 1. Every column
// is a fixed-length vector; multi-dimensional columns arrive flattened.
type fitsRecord struct {
	Z1Out  []float64 `fits:"OUTPUT_REDSHIFT"`
	Log10E []float64 `fits:"ENERGY"`
	Z1In   []float64 `fits:"INPUT_REDSHIFT"`
	TC     []float64 `fits:"DEPOSITION_FRACTIONS_NEW"`
	FIon   []float64 `fits:"F_ION"`
}

// jsonRecord mirrors the FITS columns for tables converted to JSON.
type jsonRecord struct {
	Z1Out    []float64 `json:"OUTPUT_REDSHIFT"`
	Log10E   []float64 `json:"ENERGY"`
	Z1In     []float64 `json:"INPUT_REDSHIFT"`
	Channels []string  `json:"CHANNELS,omitempty"`
	TC       []float64 `json:"DEPOSITION_FRACTIONS_NEW"`
	FIon     []float64 `json:"F_ION"`
}

// FITSReader reads processed deposition results from a FITS binary table.
type FITSReader struct{}

func (FITSReader) ReadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deposition file: %w", err)
	}
	defer f.Close()

	ff, err := fitsio.Open(f)
	if err != nil {
		return nil, simerr.Dataf("%s: %v", path, err)
	}
	defer ff.Close()

	if len(ff.HDUs()) < 2 {
		return nil, simerr.Dataf("%s: no binary table extension", path)
	}
	tbl, ok := ff.HDU(1).(*fitsio.Table)
	if !ok {
		return nil, simerr.Dataf("%s: HDU 1 is not a table", path)
	}
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, simerr.Dataf("%s: %v", path, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, simerr.Dataf("%s: empty table", path)
	}
	var rec fitsRecord
	if err := rows.Scan(&rec); err != nil {
		return nil, simerr.Dataf("%s: %v", path, err)
	}
	return newDataset(jsonRecord{
		Z1Out:  rec.Z1Out,
		Log10E: rec.Log10E,
		Z1In:   rec.Z1In,
		TC:     rec.TC,
		FIon:   rec.FIon,
	})
}

// JSONReader reads deposition results converted to a JSON object with the
// FITS column names as keys.
type JSONReader struct{}

func (JSONReader) ReadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deposition file: %w", err)
	}
	var rec jsonRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, simerr.Dataf("%s: %v", path, err)
	}
	ds, err := newDataset(rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// WriteJSON stores a dataset in the format JSONReader reads.
func WriteJSON(path string, d *Dataset) error {
	log10E := make([]float64, len(d.Energy))
	for i, e := range d.Energy {
		log10E[i] = math.Log10(e)
	}
	data, err := json.Marshal(jsonRecord{
		Z1Out:    d.Z1Out,
		Log10E:   log10E,
		Z1In:     d.Z1In,
		Channels: d.Channels,
		TC:       d.TC.Data,
		FIon:     d.FIon,
	})
	if err != nil {
		return fmt.Errorf("marshal deposition dataset: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// newDataset checks the shapes of the raw columns and converts the energy
// grid from log10(E/eV) to eV.
func newDataset(rec jsonRecord) (*Dataset, error) {
	nout, nerg, nin := len(rec.Z1Out), len(rec.Log10E), len(rec.Z1In)
	if nout == 0 || nerg < 2 || nin == 0 {
		return nil, simerr.Dataf("empty grid (zout=%d energy=%d zin=%d)", nout, nerg, nin)
	}
	block := nin * nerg * nout
	if len(rec.TC)%block != 0 {
		return nil, simerr.Dataf("deposition tensor has %d values, not a multiple of %d", len(rec.TC), block)
	}
	nch := len(rec.TC) / block
	if nch < NumSubchannels {
		return nil, simerr.Dataf("deposition tensor has %d subchannels, need %d", nch, NumSubchannels)
	}
	if len(rec.Channels) > 0 && len(rec.Channels) != nch {
		return nil, simerr.Dataf("%d channel labels for %d subchannels", len(rec.Channels), nch)
	}
	if len(rec.FIon) != nerg*nout {
		return nil, simerr.Dataf("F_ION has %d values, want %d", len(rec.FIon), nerg*nout)
	}

	energy := make([]float64, nerg)
	for i, x := range rec.Log10E {
		energy[i] = math.Pow(10, x)
		if i > 0 && !(energy[i] > energy[i-1]) {
			return nil, simerr.Dataf("energy grid not increasing at %d", i)
		}
	}
	labels := rec.Channels
	if len(labels) == 0 {
		labels = make([]string, nch)
		for i := range labels {
			if i < NumSubchannels {
				labels[i] = SubchannelNames[i]
			} else {
				labels[i] = fmt.Sprintf("ch%d", i)
			}
		}
	}
	return &Dataset{
		Z1Out:    rec.Z1Out,
		Energy:   energy,
		Z1In:     rec.Z1In,
		Channels: labels,
		TC:       Tensor4{Shape: [4]int{nch, nin, nerg, nout}, Data: rec.TC},
		FIon:     rec.FIon,
	}, nil
}
