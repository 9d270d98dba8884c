package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/background"
	"github.com/rcliao/dm21cm/internal/deposition"
)

func init() {
	cmd := &cobra.Command{
		Use:   "deposition",
		Short: "Inspect or generate deposition tables",
	}

	synth := &cobra.Command{
		Use:   "synth",
		Short: "Write synthetic electron and photon tables as JSON",
		Run:   runDepositionSynth,
	}
	synth.Flags().String("out", "", "Output directory (required)")
	synth.Flags().Int("nz", deposition.DefaultSyntheticOptions().NZ, "Redshift points")
	synth.Flags().Int("ne", deposition.DefaultSyntheticOptions().NE, "Energy points")
	synth.MarkFlagRequired("out")

	check := &cobra.Command{
		Use:   "check",
		Short: "Calibrate the tables and compare H+He ionization with the F_ION column",
		Run:   runDepositionCheck,
	}
	check.Flags().Float64("tol", 0.05, "Relative tolerance")

	cmd.AddCommand(synth, check)
	RootCmd.AddCommand(cmd)
}

func runDepositionSynth(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")
	nz, _ := cmd.Flags().GetInt("nz")
	ne, _ := cmd.Flags().GetInt("ne")

	o := deposition.DefaultSyntheticOptions()
	o.NZ, o.NE = nz, ne
	elec, phot := deposition.Synthetic(o)

	if err := os.MkdirAll(out, 0o755); err != nil {
		exitErr("create output dir", err)
	}
	var paths []string
	for _, ds := range []*deposition.Dataset{elec, phot} {
		path := filepath.Join(out, deposition.FileStem(ds.Species)+".json")
		if err := deposition.WriteJSON(path, ds); err != nil {
			exitErr("write table", err)
		}
		paths = append(paths, path)
	}

	b, _ := json.MarshalIndent(map[string]any{"ok": true, "files": paths}, "", "  ")
	fmt.Println(string(b))
}

func runDepositionCheck(cmd *cobra.Command, args []string) {
	tol, _ := cmd.Flags().GetFloat64("tol")

	ch, err := loadChannels()
	if err != nil {
		exitErr("deposition tables", err)
	}
	clump, err := deposition.LoadClumping(cfg.Deposition.Clumping, logger)
	if err != nil {
		exitErr("clumping", err)
	}
	bg, err := background.New(cfg.Cosmology, background.WithLogger(logger))
	if err != nil {
		exitErr("background", err)
	}

	res := ch.Calibrate(bg.DtauDa, clump).CheckIonization(tol)
	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
	if res.Exceeded > 0 {
		os.Exit(2)
	}
}
