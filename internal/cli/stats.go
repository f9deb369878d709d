package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	svc, st, err := openService(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	stats, err := svc.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if formatFlag == "text" {
		fmt.Printf("total=%d short_term=%d long_term=%d archived=%d pending_expiry=%d edges=%d turns=%d\n",
			stats.Total, stats.ShortTerm, stats.LongTerm, stats.Archived, stats.PendingExpiry, stats.Edges, stats.Turns)
		return
	}
	printJSON(stats)
}
