package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/injection"
	"github.com/rcliao/dm21cm/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "spectrum",
		Short: "Build an injection spectrum on the deposition energy grid",
		Run:   withCleanup(runSpectrum),
	}

	addInjectionFlags(cmd)
	cmd.Flags().Bool("csv", false, "Print bins as CSV instead of JSON")

	RootCmd.AddCommand(cmd)
}

func runSpectrum(cmd *cobra.Command, args []string) error {
	asCSV, _ := cmd.Flags().GetBool("csv")

	inj, err := readInjection(cmd)
	if err != nil {
		return fail("injection", err)
	}
	ch, err := loadChannels()
	if err != nil {
		return fail("deposition tables", err)
	}
	grid, err := injection.NewGrid(ch.Energy)
	if err != nil {
		return fail("energy grid", err)
	}
	b, cleanup, err := newBuilder()
	if err != nil {
		return fail("builder", err)
	}
	defer cleanup()

	spec, err := b.Build(cmd.Context(), inj, grid)
	if err != nil {
		return fail("spectrum", err)
	}

	if asCSV {
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"energy_ev", "electron", "photon", "proton", "neutrino", "other"})
		for i, e := range spec.Energy {
			w.Write([]string{
				formatFloat(e), formatFloat(spec.Electron[i]), formatFloat(spec.Photon[i]),
				formatFloat(spec.Proton[i]), formatFloat(spec.Neutrino[i]), formatFloat(spec.Other[i]),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fail("write csv", err)
		}
		return nil
	}

	out, _ := json.MarshalIndent(struct {
		EMFraction float64 `json:"em_fraction"`
		Total      float64 `json:"total"`
		*model.Spectrum
	}{spec.EMFraction(), spec.Total(), spec}, "", "  ")
	fmt.Println(string(out))
	return nil
}
