package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/pipeline"
	"github.com/rcliao/dm21cm/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute the 21-cm signal for one injection scenario",
		Long: "Builds the injection spectrum, deposits it, solves recombination and reports " +
			"δT_b at the target redshift. The run is stored unless --no-store is given.",
		Run: withCleanup(runRun),
	}

	addInjectionFlags(cmd)
	cmd.Flags().StringP("label", "l", "", "Label stored with the run")
	cmd.Flags().Bool("no-store", false, "Do not store the run")
	cmd.Flags().String("out", "", "Write CSV artifacts with this file root (e.g. bb100)")

	RootCmd.AddCommand(cmd)
}

// runSummary is the JSON printed after a run.
type runSummary struct {
	ID         string                    `json:"id,omitempty"`
	Label      string                    `json:"label,omitempty"`
	Injection  model.InjectionParameters `json:"injection"`
	Source     model.SpectrumSource      `json:"spectrum_source"`
	EMFraction float64                   `json:"em_fraction"`
	Aborted    bool                      `json:"aborted"`
	ZTarget    float64                   `json:"z_target"`
	DeltaTb    float64                   `json:"delta_tb_k"`
	Baseline   float64                   `json:"delta_tb_baseline_k"`
	Excess     float64                   `json:"excess_k"`
	Artifacts  []string                  `json:"artifacts,omitempty"`
}

func summarize(id, label string, res *pipeline.Result) runSummary {
	return runSummary{
		ID:         id,
		Label:      label,
		Injection:  res.Injection,
		Source:     res.Spectrum.Source,
		EMFraction: res.Spectrum.EMFraction(),
		Aborted:    res.Aborted,
		ZTarget:    res.ZTarget,
		DeltaTb:    res.DeltaTb,
		Baseline:   res.Baseline,
		Excess:     res.Excess,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	label, _ := cmd.Flags().GetString("label")
	noStore, _ := cmd.Flags().GetBool("no-store")
	out, _ := cmd.Flags().GetString("out")

	inj, err := readInjection(cmd)
	if err != nil {
		return fail("injection", err)
	}

	p, cleanup, err := preparePipeline(cmd.Context())
	if err != nil {
		return fail("prepare", err)
	}
	defer cleanup()

	res, err := p.Run(cmd.Context(), inj)
	if err != nil {
		return fail("run", err)
	}

	sum := summarize("", label, res)
	if !noStore {
		run, err := storeResult(cmd, res, label)
		if err != nil {
			return fail("store", err)
		}
		sum.ID = run.ID
	}
	if out != "" {
		if sum.Artifacts, err = writeArtifacts(cfg.Output.Dir, out, res); err != nil {
			return fail("artifacts", err)
		}
	}

	b, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(b))
	return nil
}

func storeResult(cmd *cobra.Command, res *pipeline.Result, label string) (*model.Run, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return putResult(cmd, s, res, label)
}

func putResult(cmd *cobra.Command, s store.Store, res *pipeline.Result, label string) (*model.Run, error) {
	run, err := s.Put(cmd.Context(), res.Record(cfg.Cosmology, label))
	if err != nil {
		return nil, err
	}
	logger.Debug("run stored", slog.String("id", run.ID))
	return run, nil
}
