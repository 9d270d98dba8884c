package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/signal"
	"github.com/rcliao/dm21cm/internal/simerr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dm21cm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, model.DefaultCosmology(), cfg.Cosmology)
	assert.Equal(t, 17.0, cfg.Signal.Target)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Scan, cfg.Scan)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
cosmology:
  omega_b_h2: 0.0224
  omega_dm_h2: 0.12
  omega_de_h2: 0.311
  n_eff: 3.046
  sum_mnu_ev: 0.1
  hierarchy: inverted
injection:
  generator:
    provider: http
    url: http://localhost:8089
    timeout: 90s
  cache:
    enabled: false
signal:
  coupling: collisional
  steps: 200
scan:
  workers: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, model.Inverted, cfg.Cosmology.Hierarchy)
	assert.Equal(t, 0.1, cfg.Cosmology.SumMNu)
	assert.Equal(t, "http", cfg.Injection.Generator.Provider)
	assert.Equal(t, 90*time.Second, cfg.Injection.Generator.Timeout)
	assert.False(t, cfg.Injection.Cache.Enabled)
	assert.Equal(t, 8, cfg.Scan.Workers)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Signal.ZStart, cfg.Signal.ZStart)

	grid, err := cfg.SignalGrid()
	require.NoError(t, err)
	assert.Equal(t, signal.CouplingCollisional, grid.Coupling)
	assert.Equal(t, 200, grid.Steps)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "scan:\n  workers: 8\n")
	t.Setenv("DM21CM_SCAN_WORKERS", "3")
	t.Setenv("DM21CM_DB", "/tmp/other.db")
	t.Setenv("DM21CM_CACHE_ENABLED", "0")
	t.Setenv("DM21CM_SYNTHETIC_TABLES", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scan.Workers)
	assert.Equal(t, "/tmp/other.db", cfg.Output.DB)
	assert.False(t, cfg.Injection.Cache.Enabled)
	assert.True(t, cfg.Deposition.Synthetic)

	t.Setenv("DM21CM_SCAN_WORKERS", "many")
	_, err = Load(path)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestLoadRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":        "cosmology:\n  omega_k: 0.1\n",
		"bad coupling":       "signal:\n  coupling: wouthuysen\n",
		"exec without cmd":   "injection:\n  generator:\n    provider: exec\n",
		"unknown provider":   "injection:\n  generator:\n    provider: pigeon\n",
		"inverted grid":      "signal:\n  z_start: 10\n  z_end: 100\n",
		"target off grid":    "signal:\n  target: 5\n  z_end: 10\n",
		"negative baryons":   "cosmology:\n  omega_b_h2: -1\n",
		"zero workers":       "scan:\n  workers: 0\n",
		"cache without dir":  "injection:\n  cache:\n    enabled: true\n    dir: \"\"\n",
		"tables twice":       "deposition:\n  dir: /data/tables\n  synthetic: true\n",
		"malformed document": "signal: [1, 2\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, simerr.ErrConfiguration)
		})
	}
}

func TestDepositionTablesDefaultToUnset(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Deposition.Dir)
	assert.False(t, cfg.Deposition.Synthetic)
}
