package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/dm21cm/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Run:   runList,
	}

	cmd.Flags().String("channel", "", "Filter by channel")
	cmd.Flags().StringP("label", "L", "", "Filter by label")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("aborted", false, "Include runs built from aborted generator spectra")
	cmd.Flags().Bool("ids-only", false, "Only output run IDs")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	channel, _ := cmd.Flags().GetString("channel")
	label, _ := cmd.Flags().GetString("label")
	limit, _ := cmd.Flags().GetInt("limit")
	aborted, _ := cmd.Flags().GetBool("aborted")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	runs, err := s.List(cmd.Context(), store.ListParams{
		Channel:        channel,
		Label:          label,
		Limit:          limit,
		IncludeAborted: aborted,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, r := range runs {
			fmt.Println(r.ID)
		}
		return
	}

	b, _ := json.MarshalIndent(runs, "", "  ")
	fmt.Println(string(b))
}
