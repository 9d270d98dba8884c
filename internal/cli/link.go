package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/dm21cm/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Create or remove relations between runs",
		Run:   runLink,
	}

	cmd.Flags().String("from", "", "Source run ID")
	cmd.Flags().String("to", "", "Target run ID")
	cmd.Flags().StringP("rel", "r", store.RelComparesTo, "Relation: calibrated_from, compares_to")
	cmd.Flags().Bool("rm", false, "Remove the link")

	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	rel, _ := cmd.Flags().GetString("rel")
	rm, _ := cmd.Flags().GetBool("rm")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	link, err := s.Link(cmd.Context(), store.LinkParams{
		FromID: from,
		ToID:   to,
		Rel:    rel,
		Remove: rm,
	})
	if err != nil {
		exitErr("link", err)
	}

	b, _ := json.MarshalIndent(link, "", "  ")
	fmt.Println(string(b))
}
