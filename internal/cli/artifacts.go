package cli

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rcliao/dm21cm/internal/deposition"
	"github.com/rcliao/dm21cm/internal/pipeline"
	"github.com/rcliao/dm21cm/internal/recomb"
)

// thermSamples is the number of rows in the _therm.csv artifact.
const thermSamples = 400

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }

func writeCSV(path string, header []string, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Write(header)
	rec := make([]string, len(header))
	for _, r := range rows {
		for i, v := range r {
			rec[i] = formatFloat(v)
		}
		w.Write(rec)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// writeArtifacts writes <root>_fz.csv, <root>_trace.csv and <root>_therm.csv
// under dir and returns their paths.
func writeArtifacts(dir, root string, res *pipeline.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	base := filepath.Join(dir, root)

	fzHeader := append([]string{"z1"}, deposition.SubchannelNames[:]...)
	fzRows := make([][]float64, len(res.Fz.Z1))
	for i, z1 := range res.Fz.Z1 {
		row := []float64{z1}
		for ch := 0; ch < deposition.NumSubchannels; ch++ {
			row = append(row, res.Fz.At(ch, i))
		}
		fzRows[i] = row
	}

	traceHeader := []string{"z1", "xe", "tm_k", "tr_k", "ts_k", "xc", "tau", "delta_tb_k"}
	traceRows := make([][]float64, len(res.Trace.Points))
	for i, p := range res.Trace.Points {
		traceRows[i] = []float64{p.Z1, p.Xe, p.Tm, p.Tr, p.Ts, p.Xc, p.Tau, p.DeltaTb}
	}

	first, last := res.Trace.Points[0].Z1, res.Trace.Points[len(res.Trace.Points)-1].Z1
	therm := recomb.Sample(res.History, first, last, thermSamples)
	thermRows := make([][]float64, len(therm))
	for i, r := range therm {
		thermRows[i] = r[:]
	}

	files := []struct {
		suffix string
		header []string
		rows   [][]float64
	}{
		{"_fz.csv", fzHeader, fzRows},
		{"_trace.csv", traceHeader, traceRows},
		{"_therm.csv", []string{"z1", "xe", "tm_k"}, thermRows},
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := base + f.suffix
		if err := writeCSV(path, f.header, f.rows); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
