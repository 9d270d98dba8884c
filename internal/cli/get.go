package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/dm21cm/internal/model"
	"github.com/rcliao/dm21cm/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a stored run",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("rows", false, "Include the fz and trace rows")
	cmd.Flags().Bool("links", false, "Include relations to other runs")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	rows, _ := cmd.Flags().GetBool("rows")
	withLinks, _ := cmd.Flags().GetBool("links")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	run, err := s.Get(cmd.Context(), store.GetParams{ID: args[0], Rows: rows})
	if err != nil {
		exitErr("get", err)
	}

	out := struct {
		*model.Run
		Excess float64      `json:"excess_k"`
		Links  []store.Link `json:"links,omitempty"`
	}{Run: run, Excess: run.Excess()}
	if withLinks {
		if out.Links, err = s.GetLinks(cmd.Context(), run.ID); err != nil {
			exitErr("links", err)
		}
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
