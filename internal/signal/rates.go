package signal

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/interp"

	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/simerr"
)

//go:embed kappa_hh.csv
var kappaHHCSV []byte

//go:embed kappa_eh.csv
var kappaEHCSV []byte

// RateTable is a collisional de-excitation rate coefficient κ(T), fitted by
// natural cubic spline in (ln T, ln κ) and held flat outside the table.
type RateTable struct {
	tMin, tMax float64
	spl        interp.Predictor
}

// At returns κ in cm³/s at kinetic temperature tK.
func (r *RateTable) At(tK float64) float64 {
	tK = math.Min(math.Max(tK, r.tMin), r.tMax)
	return math.Exp(r.spl.Predict(math.Log(tK)))
}

// Rates holds the hydrogen–hydrogen and electron–hydrogen tables.
type Rates struct {
	HH *RateTable
	EH *RateTable
}

var defaultRates = sync.OnceValues(func() (*Rates, error) {
	hh, err := ParseRateTable(bytes.NewReader(kappaHHCSV))
	if err != nil {
		return nil, err
	}
	eh, err := ParseRateTable(bytes.NewReader(kappaEHCSV))
	if err != nil {
		return nil, err
	}
	return &Rates{HH: hh, EH: eh}, nil
})

// DefaultRates returns the embedded κ_HH and κ_eH tables.
func DefaultRates() *Rates {
	r, err := defaultRates()
	if err != nil {
		panic(fmt.Sprintf("signal: embedded rate tables: %v", err))
	}
	return r
}

// LoadRates reads replacement tables. An empty path keeps the embedded one.
func LoadRates(hhPath, ehPath string) (*Rates, error) {
	out := *DefaultRates()
	for _, f := range []struct {
		path string
		dst  **RateTable
	}{{hhPath, &out.HH}, {ehPath, &out.EH}} {
		if f.path == "" {
			continue
		}
		fh, err := os.Open(f.path)
		if err != nil {
			return nil, fmt.Errorf("open rate table: %w", err)
		}
		t, err := ParseRateTable(fh)
		fh.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
		*f.dst = t
	}
	return &out, nil
}

// ParseRateTable reads a two-column CSV (temperature in K, κ in cm³/s)
// with a header row.
func ParseRateTable(r io.Reader) (*RateTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.Comment = '#'
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, simerr.Dataf("rate table: %v", err)
	}
	if len(recs) < 3 {
		return nil, simerr.Dataf("rate table: need at least 2 rows")
	}
	type row struct{ t, k float64 }
	rows := make([]row, 0, len(recs)-1)
	for i, rec := range recs[1:] {
		t, err1 := strconv.ParseFloat(rec[0], 64)
		k, err2 := strconv.ParseFloat(rec[1], 64)
		if err1 != nil || err2 != nil || !(t > 0) || !(k > 0) {
			return nil, simerr.Dataf("rate table: bad row %d: %v", i+2, rec)
		}
		rows = append(rows, row{t, k})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].t < rows[j].t })
	lt := make([]float64, len(rows))
	lk := make([]float64, len(rows))
	for i, r := range rows {
		lt[i], lk[i] = math.Log(r.t), math.Log(r.k)
	}
	spl, err := numeric.Fit(numeric.NaturalCubic, lt, lk)
	if err != nil {
		return nil, err
	}
	return &RateTable{tMin: rows[0].t, tMax: rows[len(rows)-1].t, spl: spl}, nil
}
