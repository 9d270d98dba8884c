// Package cli implements the dm21cm CLI commands.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/config"
	"github.com/rcliao/dm21cm/internal/metrics"
	"github.com/rcliao/dm21cm/internal/store"
)

var (
	dbPath      string
	configPath  string
	logLevel    string
	metricsAddr string
	synthetic   bool

	cfg    config.Config
	logger *slog.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "dm21cm",
	Short: "Dark-matter energy injection and the 21-cm signal",
	Long: "Builds dark-matter injection spectra, folds them through deposition tables, " +
		"evolves recombination and gas temperature, and reports the 21-cm brightness temperature. " +
		"Runs are stored in SQLite.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $DM21CM_DB or ~/.dm21cm/runs.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $DM21CM_CONFIG)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	RootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	RootCmd.PersistentFlags().BoolVar(&synthetic, "synthetic-tables", false, "Use built-in synthetic deposition tables (testing only)")
}

func setup(cmd *cobra.Command, args []string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	path := configPath
	if path == "" {
		path = os.Getenv("DM21CM_CONFIG")
	}
	var err error
	if cfg, err = config.Load(path); err != nil {
		return err
	}
	if synthetic {
		cfg.Deposition.Synthetic = true
	}

	if metricsAddr != "" {
		metrics.Serve(cmd.Context(), metricsAddr, logger)
	}
	return nil
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.Output.DB
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

// stepError names the step a command body failed in.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func fail(step string, err error) error { return &stepError{step: step, err: err} }

// withCleanup adapts a command body that returns its error, so the body's
// deferred cleanups run before exitErr ends the process.
func withCleanup(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		err := fn(cmd, args)
		if err == nil {
			return
		}
		var se *stepError
		if errors.As(err, &se) {
			exitErr(se.step, se.err)
		}
		exitErr(cmd.Name(), err)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
