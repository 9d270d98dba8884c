package injection

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/interp"

	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/simerr"
)

// SpectralTable gives precomputed final-state spectra dN/dlog10(x) with
// x = E/m, for m the energy of one of the two final-state particles.
type SpectralTable interface {
	// Covers reports whether the table spans massGeV for the channel.
	Covers(ch model.Channel, massGeV float64) bool
	// DNdLog10x evaluates the spectrum of one species bucket. It returns
	// zero outside the tabulated x range.
	DNdLog10x(c Class, ch model.Channel, massGeV, log10x float64) float64
}

type tableKey struct {
	class   Class
	channel model.Channel
}

type massNode struct {
	mass       float64
	xmin, xmax float64 // log10x range
	spline     interp.Predictor
}

// CSVTable is a SpectralTable read from long-format CSV with the header
// species,channel,mass,log10x,dndlog10x. Spectra are interpolated in
// log10x with an Akima spline and linearly in ln(mass) between nodes.
type CSVTable struct {
	nodes map[tableKey][]massNode
}

var tableColumns = []string{"species", "channel", "mass", "log10x", "dndlog10x"}

// LoadCSVTable opens and parses a spectral table.
func LoadCSVTable(path string) (*CSVTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spectral table: %w", err)
	}
	defer f.Close()
	t, err := ParseCSVTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseCSVTable reads a spectral table. Column order is taken from the header.
func ParseCSVTable(r io.Reader) (*CSVTable, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, simerr.Dataf("spectral table header: %v", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range tableColumns {
		if _, ok := col[name]; !ok {
			return nil, simerr.Dataf("spectral table: missing column %q", name)
		}
	}

	type point struct{ lx, dn float64 }
	type nodeKey struct {
		tableKey
		mass float64
	}
	raw := map[nodeKey][]point{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, simerr.Dataf("spectral table line %d: %v", line, err)
		}
		cls, err := parseClass(rec[col["species"]])
		if err != nil {
			return nil, simerr.Dataf("spectral table line %d: %v", line, err)
		}
		ch, err := model.ParseChannel(strings.TrimSpace(rec[col["channel"]]))
		if err != nil {
			return nil, simerr.Dataf("spectral table line %d: %v", line, err)
		}
		var vals [3]float64
		for i, name := range tableColumns[2:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col[name]]), 64)
			if err != nil {
				return nil, simerr.Dataf("spectral table line %d: %s: %v", line, name, err)
			}
			vals[i] = v
		}
		k := nodeKey{tableKey{cls, ch}, vals[0]}
		raw[k] = append(raw[k], point{vals[1], vals[2]})
	}
	if len(raw) == 0 {
		return nil, simerr.Dataf("spectral table has no rows")
	}

	t := &CSVTable{nodes: map[tableKey][]massNode{}}
	for k, pts := range raw {
		sort.Slice(pts, func(i, j int) bool { return pts[i].lx < pts[j].lx })
		xs := make([]float64, len(pts))
		ys := make([]float64, len(pts))
		for i, p := range pts {
			xs[i], ys[i] = p.lx, p.dn
		}
		sp, err := numeric.Fit(numeric.Akima, xs, ys)
		if err != nil {
			return nil, fmt.Errorf("%s %s m=%g: %w", k.class, k.channel, k.mass, err)
		}
		t.nodes[k.tableKey] = append(t.nodes[k.tableKey], massNode{
			mass: k.mass, xmin: xs[0], xmax: xs[len(xs)-1], spline: sp,
		})
	}
	for k := range t.nodes {
		ns := t.nodes[k]
		sort.Slice(ns, func(i, j int) bool { return ns[i].mass < ns[j].mass })
	}
	return t, nil
}

func parseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "photon", "gamma":
		return ClassPhoton, nil
	case "electron", "positron", "e":
		return ClassElectron, nil
	case "proton", "antiproton", "p":
		return ClassProton, nil
	case "neutrino", "nu":
		return ClassNeutrino, nil
	case "other":
		return ClassOther, nil
	}
	return 0, fmt.Errorf("unknown species %q", s)
}

// Covers uses the photon and electron nodes; either is enough.
func (t *CSVTable) Covers(ch model.Channel, massGeV float64) bool {
	for _, c := range []Class{ClassPhoton, ClassElectron} {
		ns := t.nodes[tableKey{c, ch}]
		if len(ns) > 0 && massGeV >= ns[0].mass && massGeV <= ns[len(ns)-1].mass {
			return true
		}
	}
	return false
}

func (t *CSVTable) DNdLog10x(c Class, ch model.Channel, massGeV, log10x float64) float64 {
	ns := t.nodes[tableKey{c, ch}]
	if len(ns) == 0 || massGeV < ns[0].mass || massGeV > ns[len(ns)-1].mass {
		return 0
	}
	i := sort.Search(len(ns), func(i int) bool { return ns[i].mass >= massGeV })
	if ns[i].mass == massGeV {
		return ns[i].eval(log10x)
	}
	lo, hi := ns[i-1], ns[i]
	w := math.Log(massGeV/lo.mass) / math.Log(hi.mass/lo.mass)
	return (1-w)*lo.eval(log10x) + w*hi.eval(log10x)
}

func (n massNode) eval(log10x float64) float64 {
	if log10x < n.xmin || log10x > n.xmax {
		return 0
	}
	return math.Max(n.spline.Predict(log10x), 0)
}
