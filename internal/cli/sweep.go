package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a maintenance sweep",
		Long:  "Promote reinforced short-term memories, archive expired ones, merge near-duplicates, and evict over long-term capacity.",
		Run:   runSweep,
	}

	RootCmd.AddCommand(cmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	svc, st, err := openService(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	report, err := svc.Sweep(cmd.Context(), time.Now().UTC())
	if err != nil {
		exitErr("sweep", err)
	}

	if formatFlag == "text" {
		fmt.Printf("promoted=%d expired=%d merged=%d archived=%d\n",
			report.Promoted, report.Expired, report.Merged, report.Archived)
		return
	}
	printJSON(report)
}
