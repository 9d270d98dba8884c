// Package bbn provides the primordial helium mass fraction Y_p as a function
// of the baryon density and the extra relativistic degrees of freedom.
//
// The embedded reference grid follows the PArthENoPE fit used by CLASS.
package bbn

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/simerr"
)

//go:embed parthenope.csv
var parthenopeCSV []byte

// Lookup returns Y_p for a physical baryon density ω_b = Ω_b h² and an
// effective-neutrino-number offset ΔN_eff.
type Lookup interface {
	Yp(omegaB, deltaNEff float64) float64
}

// Table is a bilinear Y_p(ω_b, ΔN_eff) grid. Queries outside the grid are
// clamped to its edge.
type Table struct {
	grid *numeric.Grid2D
}

func (t *Table) Yp(omegaB, deltaNEff float64) float64 {
	return t.grid.At(omegaB, deltaNEff)
}

var defaultTable = sync.OnceValues(func() (*Table, error) {
	return Parse(bytes.NewReader(parthenopeCSV))
})

// Default returns the embedded reference table.
func Default() *Table {
	t, err := defaultTable()
	if err != nil {
		panic(fmt.Sprintf("bbn: embedded table: %v", err))
	}
	return t
}

// Load reads a table from a CSV file with columns omega_b, delta_neff, yp.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bbn table: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a long-format CSV (header row, then omega_b,delta_neff,yp
// rows) covering a full rectangular grid in any row order.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.Comment = '#'
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, simerr.Dataf("bbn table: %v", err)
	}
	if len(recs) < 2 {
		return nil, simerr.Dataf("bbn table: no rows")
	}

	type point struct{ w, d, yp float64 }
	pts := make([]point, 0, len(recs)-1)
	ws := map[float64]bool{}
	ds := map[float64]bool{}
	for i, rec := range recs[1:] {
		var vals [3]float64
		for k := range vals {
			v, err := strconv.ParseFloat(rec[k], 64)
			if err != nil {
				return nil, simerr.Dataf("bbn table row %d: %v", i+2, err)
			}
			vals[k] = v
		}
		pts = append(pts, point{vals[0], vals[1], vals[2]})
		ws[vals[0]] = true
		ds[vals[1]] = true
	}

	xs := sortedKeys(ws)
	ys := sortedKeys(ds)
	if len(xs)*len(ys) != len(pts) {
		return nil, simerr.Dataf("bbn table: %d rows do not fill a %dx%d grid", len(pts), len(xs), len(ys))
	}
	z := make([][]float64, len(xs))
	for i := range z {
		z[i] = make([]float64, len(ys))
	}
	for _, p := range pts {
		i := sort.SearchFloat64s(xs, p.w)
		j := sort.SearchFloat64s(ys, p.d)
		z[i][j] = p.yp
	}
	g, err := numeric.NewGrid2D(xs, ys, z)
	if err != nil {
		return nil, err
	}
	return &Table{grid: g}, nil
}

func sortedKeys(m map[float64]bool) []float64 {
	out := make([]float64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}
