package bbn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/dm21cm/internal/simerr"
)

func TestDefaultStandardCosmology(t *testing.T) {
	yp := Default().Yp(0.0224, 0)
	assert.InDelta(t, 0.2468, yp, 5e-4)
}

func TestDefaultMonotonic(t *testing.T) {
	tab := Default()
	assert.Greater(t, tab.Yp(0.025, 0), tab.Yp(0.020, 0))
	assert.Greater(t, tab.Yp(0.0224, 1), tab.Yp(0.0224, 0))
}

func TestClampedOutsideGrid(t *testing.T) {
	tab := Default()
	assert.Equal(t, tab.Yp(0.040, 3), tab.Yp(1, 10))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yp.csv")
	data := "omega_b,delta_neff,yp\n0.02,0,0.24\n0.02,1,0.25\n0.03,1,0.27\n0.03,0,0.26\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	tab, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.255, tab.Yp(0.025, 0.5), 1e-12)
}

func TestParseRejectsRaggedGrid(t *testing.T) {
	_, err := Parse(strings.NewReader("omega_b,delta_neff,yp\n0.02,0,0.24\n0.02,1,0.25\n0.03,0,0.26\n"))
	assert.ErrorIs(t, err, simerr.ErrData)
}
