package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reinforce <id>",
		Short: "Reinforce a memory",
		Long:  "Bump a memory's reinforcement count and access time. Enough reinforcement promotes it to long-term on the next sweep.",
		Args:  cobra.ExactArgs(1),
		Run:   runReinforce,
	}

	RootCmd.AddCommand(cmd)
}

func runReinforce(cmd *cobra.Command, args []string) {
	svc, st, err := openService(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	rec, err := svc.Reinforce(cmd.Context(), args[0])
	if err != nil {
		exitErr("reinforce", err)
	}

	if formatFlag == "text" {
		fmt.Printf("%s  reinforcement=%d  %s\n", rec.ID, rec.ReinforcementCount, rec.Content)
		return
	}
	printJSON(rec)
}
