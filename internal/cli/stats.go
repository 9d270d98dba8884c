package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rcliao/dm21cm/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show run counts and the mass and excess ranges per channel",
		Run:   runStats,
	}

	cmd.Flags().Bool("table", false, "Print a readable table instead of JSON")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	asTable, _ := cmd.Flags().GetBool("table")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), getDBPath())
	if err != nil {
		exitErr("stats", err)
	}

	if asTable {
		if err := writeStatsTable(os.Stdout, stats); err != nil {
			exitErr("write table", err)
		}
		return
	}
	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}

// writeStatsTable prints the totals followed by one line per channel with
// its mass range in GeV and excess range in mK.
func writeStatsTable(w io.Writer, st *store.Stats) error {
	fmt.Fprintf(w, "%s (%d bytes)\n", st.DBPath, st.DBSizeBytes)
	fmt.Fprintf(w, "runs: %d active, %d aborted, %d synthetic, %d total\n",
		st.ActiveRuns, st.AbortedRuns, st.SyntheticRuns, st.TotalRuns)
	fmt.Fprintf(w, "rows: %d fz, %d trace; links: %d\n\n", st.FzRows, st.TraceRows, st.Links)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tRUNS\tMASS (GeV)\tEXCESS (mK)")
	for _, c := range st.Channels {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Channel, c.Count,
			formatRange(c.MinMass, c.MaxMass, 1), formatRange(c.MinExcess, c.MaxExcess, 1e3))
	}
	return tw.Flush()
}

func formatRange(lo, hi, scale float64) string {
	if lo == hi {
		return fmt.Sprintf("%.4g", lo*scale)
	}
	return fmt.Sprintf("%.4g .. %.4g", lo*scale, hi*scale)
}
