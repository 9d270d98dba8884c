package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/background"
	"github.com/rcliao/dm21cm/internal/bbn"
	"github.com/rcliao/dm21cm/internal/physconst"
	"github.com/rcliao/dm21cm/internal/recomb"
	"github.com/rcliao/dm21cm/internal/thermal"
)

func init() {
	cmd := &cobra.Command{
		Use:   "background",
		Short: "Summarise the expansion and recombination history of the configured cosmology",
		Run:   runBackground,
	}

	cmd.Flags().Int("depth-points", 4000, "Optical-depth grid size")

	RootCmd.AddCommand(cmd)
}

func runBackground(cmd *cobra.Command, args []string) {
	n, _ := cmd.Flags().GetInt("depth-points")

	opts := []background.Option{background.WithLogger(logger)}
	if cfg.Recombination.Helium != "" {
		tab, err := bbn.Load(cfg.Recombination.Helium)
		if err != nil {
			exitErr("helium table", err)
		}
		opts = append(opts, background.WithHelium(tab))
	}
	bg, err := background.New(cfg.Cosmology, opts...)
	if err != nil {
		exitErr("background", err)
	}

	solver := &recomb.Peebles{ZStart: cfg.Recombination.ZStart, Steps: cfg.Recombination.Steps, Logger: logger}
	hist, err := solver.Solve(cmd.Context(), thermal.RecInput{Background: bg, Rates: thermal.Zero()})
	if err != nil {
		exitErr("recombination", err)
	}
	depth := recomb.OpticalDepth(bg, hist, n)
	zStar, err := depth.LastScattering()
	if err != nil {
		exitErr("last scattering", err)
	}
	zDrag, err := depth.DragEpoch()
	if err != nil {
		exitErr("drag epoch", err)
	}
	rs, err := bg.SoundHorizon(1 / (1 + zDrag))
	if err != nil {
		exitErr("sound horizon", err)
	}
	age, err := bg.CosmicTime(1)
	if err != nil {
		exitErr("age", err)
	}

	out := struct {
		LittleH      float64    `json:"h"`
		Yp           float64    `json:"yp"`
		NeutrinoEV   [3]float64 `json:"neutrino_masses_ev"`
		NeutrinoZNR  [3]float64 `json:"neutrino_nr_z1"`
		ZEquality    float64    `json:"z_equality"`
		ZStar        float64    `json:"z_star"`
		ZDrag        float64    `json:"z_drag"`
		SoundHorizon float64    `json:"rs_drag_mpc"`
		AgeGyr       float64    `json:"age_gyr"`
	}{
		LittleH:      bg.LittleH(),
		Yp:           bg.Yp(),
		NeutrinoEV:   bg.Masses(),
		NeutrinoZNR:  bg.NeutrinoNRRedshifts(),
		ZEquality:    1/bg.ScaleFactorEquality() - 1,
		ZStar:        zStar,
		ZDrag:        zDrag,
		SoundHorizon: rs / physconst.Mpc,
		AgeGyr:       age / physconst.Gyr,
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
