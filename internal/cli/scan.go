package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a grid of masses and cross-sections in parallel",
		Run:   withCleanup(runScan),
	}

	addInjectionFlags(cmd)
	cmd.Flags().String("masses", "", "Comma-separated masses in GeV (required)")
	cmd.Flags().String("sigmavs", "", "Comma-separated cross-sections in cm^3/s (default: --sigmav)")
	cmd.Flags().IntP("workers", "w", 0, "Parallel runs (default from config)")
	cmd.Flags().StringP("label", "l", "", "Label stored with every run")
	cmd.Flags().Bool("no-store", false, "Do not store the runs")

	cmd.MarkFlagRequired("masses")

	RootCmd.AddCommand(cmd)
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	massStr, _ := cmd.Flags().GetString("masses")
	svStr, _ := cmd.Flags().GetString("sigmavs")
	workers, _ := cmd.Flags().GetInt("workers")
	label, _ := cmd.Flags().GetString("label")
	noStore, _ := cmd.Flags().GetBool("no-store")

	base, err := readInjection(cmd)
	if err != nil {
		return fail("injection", err)
	}
	masses, err := parseFloats(massStr)
	if err != nil {
		return fail("masses", err)
	}
	sigmavs := []float64{base.SigmaV}
	if svStr != "" {
		if sigmavs, err = parseFloats(svStr); err != nil {
			return fail("sigmavs", err)
		}
	}
	if workers <= 0 {
		workers = cfg.Scan.Workers
	}

	p, cleanup, err := preparePipeline(cmd.Context())
	if err != nil {
		return fail("prepare", err)
	}
	defer cleanup()

	results, err := pipeline.Scan(cmd.Context(), p, pipeline.Grid(base, masses, sigmavs), workers)
	if err != nil {
		return fail("scan", err)
	}

	sums := make([]runSummary, len(results))
	for i, res := range results {
		sums[i] = summarize("", label, res)
	}
	if !noStore {
		s, err := openStore()
		if err != nil {
			return fail("open store", err)
		}
		defer s.Close()
		for i, res := range results {
			run, err := putResult(cmd, s, res, label)
			if err != nil {
				return fail("store", err)
			}
			sums[i].ID = run.ID
		}
	}

	b, _ := json.MarshalIndent(sums, "", "  ")
	fmt.Println(string(b))
	return nil
}
