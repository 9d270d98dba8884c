package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/pipeline"
	"github.com/rcliao/dm21cm/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Find the cross-section that produces a given signal excess",
		Long: "Searches σv so that δT_b minus the no-injection value at the target redshift " +
			"equals --target kelvin, or the excess of the stored run --to-run. " +
			"--sigmav is the starting guess.",
		Run: withCleanup(runCalibrate),
	}

	addInjectionFlags(cmd)
	cmd.Flags().Float64("target", 0, "Signal excess in kelvin")
	cmd.Flags().String("to-run", "", "Match the excess of this stored run and link to it")
	cmd.Flags().Float64("factor", pipeline.DefaultCalibrateOptions().Factor, "Bracket expansion factor")
	cmd.Flags().Int("max-steps", pipeline.DefaultCalibrateOptions().MaxSteps, "Bracket expansion steps")
	cmd.Flags().Float64("rtol", pipeline.DefaultCalibrateOptions().RelTol, "Relative tolerance on σv")
	cmd.Flags().StringP("label", "l", "", "Label stored with the calibrated run")
	cmd.Flags().Bool("no-store", false, "Do not store the calibrated run")

	cmd.MarkFlagsMutuallyExclusive("target", "to-run")
	cmd.MarkFlagsOneRequired("target", "to-run")

	RootCmd.AddCommand(cmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	target, _ := cmd.Flags().GetFloat64("target")
	toRun, _ := cmd.Flags().GetString("to-run")
	factor, _ := cmd.Flags().GetFloat64("factor")
	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	rtol, _ := cmd.Flags().GetFloat64("rtol")
	label, _ := cmd.Flags().GetString("label")
	noStore, _ := cmd.Flags().GetBool("no-store")

	inj, err := readInjection(cmd)
	if err != nil {
		return fail("injection", err)
	}

	var s *store.SQLiteStore
	if toRun != "" || !noStore {
		if s, err = openStore(); err != nil {
			return fail("open store", err)
		}
		defer s.Close()
	}
	if toRun != "" {
		ref, err := s.Get(cmd.Context(), store.GetParams{ID: toRun})
		if err != nil {
			return fail("reference run", err)
		}
		target = ref.Excess()
	}

	p, cleanup, err := preparePipeline(cmd.Context())
	if err != nil {
		return fail("prepare", err)
	}
	defer cleanup()

	cal, err := pipeline.Calibrate(cmd.Context(), p, inj, target, pipeline.CalibrateOptions{
		Factor:   factor,
		MaxSteps: maxSteps,
		RelTol:   rtol,
	})
	if err != nil {
		return fail("calibrate", err)
	}

	out := struct {
		SigmaV      float64    `json:"sigma_v_cm3s"`
		TargetK     float64    `json:"target_excess_k"`
		Evaluations int        `json:"evaluations"`
		Run         runSummary `json:"run"`
		LinkedTo    string     `json:"calibrated_from,omitempty"`
	}{
		SigmaV:      cal.SigmaV,
		TargetK:     target,
		Evaluations: cal.Evaluations,
		Run:         summarize("", label, cal.Result),
	}

	if !noStore {
		run, err := putResult(cmd, s, cal.Result, label)
		if err != nil {
			return fail("store", err)
		}
		out.Run.ID = run.ID
		if toRun != "" {
			if _, err := s.Link(cmd.Context(), store.LinkParams{
				FromID: run.ID, ToID: toRun, Rel: store.RelCalibratedFrom,
			}); err != nil {
				return fail("link", err)
			}
			out.LinkedTo = toRun
		}
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
	return nil
}
