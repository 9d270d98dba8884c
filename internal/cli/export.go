package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export runs as JSON",
		Long:  "Export live runs with their fz and trace rows as a JSON array. Filter by channel with --channel.",
		Run:   runExport,
	}

	cmd.Flags().String("channel", "", "Filter by channel")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	channel, _ := cmd.Flags().GetString("channel")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	runs, err := s.ExportAll(cmd.Context(), channel)
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(runs, "", "  ")
	fmt.Println(string(b))
}
