package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/memlens/memlens/episode"
)

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "List the built-in evaluation tracks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TRACK\tEPISODE\tTHREAT\tTITLE")
		for _, ep := range episode.BuiltinTracks() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ep.TrackID, ep.ID, ep.ThreatLevel, ep.Title)
		}
		return w.Flush()
	},
}
