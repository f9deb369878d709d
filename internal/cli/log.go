package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "log <session-id>",
		Short: "Show a session's conversation log",
		Long:  "Print the recorded turns of a session in order, oldest first.",
		Args:  cobra.ExactArgs(1),
		Run:   runLog,
	}

	RootCmd.AddCommand(cmd)
}

func runLog(cmd *cobra.Command, args []string) {
	svc, st, err := openService(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	turns, err := svc.GetSessionLog(cmd.Context(), args[0])
	if err != nil {
		exitErr("log", err)
	}

	if formatFlag == "text" {
		if len(turns) == 0 {
			fmt.Println("(empty session)")
			return
		}
		for _, t := range turns {
			refs := ""
			if len(t.MemoryRefs) > 0 {
				refs = "  [" + strings.Join(t.MemoryRefs, ",") + "]"
			}
			fmt.Printf("%3d %-5s %s%s\n", t.TurnIndex, t.Speaker, t.Text, refs)
		}
		return
	}

	if len(turns) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(turns)
}
