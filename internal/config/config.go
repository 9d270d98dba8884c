// Package config loads dm21cm settings with priority env > file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/dm21cm/internal/generator"
	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/pipeline"
	"github.com/rcliao/dm21cm/internal/recomb"
	"github.com/rcliao/dm21cm/internal/signal"
	"github.com/rcliao/dm21cm/internal/simerr"
)

// Config is the top-level configuration.
type Config struct {
	Output        OutputConfig                 `yaml:"output"`
	Cosmology     model.CosmologicalParameters `yaml:"cosmology"`
	Deposition    DepositionConfig             `yaml:"deposition"`
	Injection     InjectionConfig              `yaml:"injection"`
	Recombination RecombinationConfig          `yaml:"recombination"`
	Signal        SignalConfig                 `yaml:"signal"`
	Scan          ScanConfig                   `yaml:"scan"`
}

// OutputConfig says where runs and artifacts go.
type OutputConfig struct {
	DB        string `yaml:"db" validate:"required"`
	Dir       string `yaml:"dir"`
	Artifacts bool   `yaml:"artifacts"`
}

// DepositionConfig locates the deposition tables.
type DepositionConfig struct {
	// Dir holds the electron and photon tables.
	Dir string `yaml:"dir"`
	// Synthetic selects the built-in synthetic tables instead of Dir. They
	// are for testing and demonstrations; runs made with them are marked.
	Synthetic bool   `yaml:"synthetic" validate:"excluded_with=Dir"`
	Clumping  string `yaml:"clumping"`
}

// InjectionConfig covers spectrum construction.
type InjectionConfig struct {
	Generator       generator.Config `yaml:"generator"`
	Table           string           `yaml:"table"`
	MinGeneratorECM float64          `yaml:"min_generator_ecm_gev" validate:"gte=0"`
	Events          int              `yaml:"events" validate:"gte=0"`
	AbortAfter      int              `yaml:"abort_after" validate:"gte=0"`
	Multiplicity    float64          `yaml:"multiplicity" validate:"gt=0"`
	Cache           CacheConfig      `yaml:"cache"`
}

// CacheConfig controls the on-disk spectrum cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir" validate:"required_if=Enabled true"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// RecombinationConfig is the recombination integration grid.
type RecombinationConfig struct {
	ZStart float64 `yaml:"z_start" validate:"gt=0"`
	Steps  int     `yaml:"steps" validate:"gte=100"`
	// Helium replaces the built-in BBN helium table.
	Helium string `yaml:"helium"`
}

// SignalConfig is the 21-cm grid and reporting redshift.
type SignalConfig struct {
	ZStart   float64 `yaml:"z_start" validate:"gtfield=ZEnd"`
	ZEnd     float64 `yaml:"z_end" validate:"gte=0"`
	Steps    int     `yaml:"steps" validate:"gte=2"`
	Coupling string  `yaml:"coupling" validate:"omitempty,oneof=full collisional"`
	Target   float64 `yaml:"target" validate:"gte=0"`
	KappaHH  string  `yaml:"kappa_hh"`
	KappaEH  string  `yaml:"kappa_eh"`
}

// ScanConfig bounds parameter scans.
type ScanConfig struct {
	Workers int `yaml:"workers" validate:"gte=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".dm21cm")
	sc := signal.DefaultConfig()
	return Config{
		Output: OutputConfig{
			DB:  filepath.Join(base, "runs.db"),
			Dir: ".",
		},
		Cosmology: model.DefaultCosmology(),
		Injection: InjectionConfig{
			Generator:    generator.Config{Timeout: 5 * time.Minute},
			Multiplicity: 2,
			Cache: CacheConfig{
				Enabled: true,
				Dir:     filepath.Join(base, "spectra"),
				TTL:     30 * 24 * time.Hour,
			},
		},
		Recombination: RecombinationConfig{
			ZStart: recomb.DefaultZStart,
			Steps:  recomb.DefaultSteps,
		},
		Signal: SignalConfig{
			ZStart:   sc.ZStart,
			ZEnd:     sc.ZEnd,
			Steps:    sc.Steps,
			Coupling: sc.Coupling.String(),
			Target:   pipeline.DefaultTarget,
		},
		Scan: ScanConfig{Workers: 4},
	}
}

// Load reads configuration with priority env > file > defaults. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return simerr.Configf("parse %s: %v", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("DM21CM_DB", &cfg.Output.DB)
	str("DM21CM_OUTPUT_DIR", &cfg.Output.Dir)
	str("DM21CM_DEPOSITION_DIR", &cfg.Deposition.Dir)
	str("DM21CM_CLUMPING", &cfg.Deposition.Clumping)
	str("DM21CM_SPECTRAL_TABLE", &cfg.Injection.Table)
	str("DM21CM_GENERATOR_PROVIDER", &cfg.Injection.Generator.Provider)
	str("DM21CM_GENERATOR_CMD", &cfg.Injection.Generator.Command)
	str("DM21CM_GENERATOR_URL", &cfg.Injection.Generator.URL)
	str("DM21CM_CACHE_DIR", &cfg.Injection.Cache.Dir)
	str("DM21CM_COUPLING", &cfg.Signal.Coupling)

	if v := os.Getenv("DM21CM_CACHE_ENABLED"); v != "" {
		cfg.Injection.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DM21CM_SYNTHETIC_TABLES"); v != "" {
		cfg.Deposition.Synthetic = v == "true" || v == "1"
	}
	if v := os.Getenv("DM21CM_SCAN_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return simerr.Configf("DM21CM_SCAN_WORKERS: %v", err)
		}
		cfg.Scan.Workers = n
	}
	if v := os.Getenv("DM21CM_EVENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return simerr.Configf("DM21CM_EVENTS: %v", err)
		}
		cfg.Injection.Events = n
	}
	if v := os.Getenv("DM21CM_Z_TARGET"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return simerr.Configf("DM21CM_Z_TARGET: %v", err)
		}
		cfg.Signal.Target = f
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cosmology.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return simerr.Configf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return simerr.Configf("invalid config: %v", err)
	}
	if err := c.Cosmology.Validate(); err != nil {
		return err
	}
	if c.Signal.Target < c.Signal.ZEnd || c.Signal.Target > c.Signal.ZStart {
		return simerr.Configf("signal target z=%g lies outside [%g, %g]", c.Signal.Target, c.Signal.ZEnd, c.Signal.ZStart)
	}
	return nil
}

// SignalGrid converts the signal section for the pipeline.
func (c Config) SignalGrid() (signal.Config, error) {
	coupling, err := signal.ParseCoupling(c.Signal.Coupling)
	if err != nil {
		return signal.Config{}, err
	}
	return signal.Config{
		ZStart:   c.Signal.ZStart,
		ZEnd:     c.Signal.ZEnd,
		Steps:    c.Signal.Steps,
		Coupling: coupling,
	}, nil
}
