package deposition

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/rcliao/dm21cm/internal/numeric"
	"github.com/rcliao/dm21cm/internal/simerr"
)

// NoClumping is the identity boost.
func NoClumping(float64) float64 { return 1 }

// LoadClumping reads a two-column (redshift, boost) text table and returns
// a cubic spline through it. A missing file is not an error: clumping is
// ignored with a warning. An empty path means no clumping.
func LoadClumping(path string, logger *slog.Logger) (func(z float64) float64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return NoClumping, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("clumping table missing; clumping is ignored", slog.String("path", path))
		return NoClumping, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var zs, boost []float64
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, simerr.Dataf("%s:%d: want 2 columns, got %d", path, line, len(fields))
		}
		z, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, simerr.Dataf("%s:%d: %v", path, line, err)
		}
		b, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, simerr.Dataf("%s:%d: %v", path, line, err)
		}
		zs = append(zs, z)
		boost = append(boost, b)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	p, err := numeric.Fit(numeric.NaturalCubic, zs, boost)
	if err != nil {
		return nil, err
	}
	logger.Info("clumping table loaded", slog.String("path", path), slog.Int("rows", len(zs)))
	return p.Predict, nil
}
