package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "turn <session-id> [text]",
		Short: "Append a turn to a session log",
		Long:  "Record a conversation turn without forming a memory from it. Useful for logging the agent's own replies.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runTurn,
	}

	cmd.Flags().String("speaker", "ai", "Speaker: user or ai")
	cmd.Flags().StringP("refs", "r", "", "Comma-separated ids of memories surfaced in this turn")

	RootCmd.AddCommand(cmd)
}

func runTurn(cmd *cobra.Command, args []string) {
	speaker, _ := cmd.Flags().GetString("speaker")
	refsStr, _ := cmd.Flags().GetString("refs")
	sessionID := args[0]
	text := strings.Join(args[1:], " ")

	svc, st, err := openService(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	turn, err := svc.LogTurn(cmd.Context(), sessionID, speaker, text, splitCSV(refsStr))
	if err != nil {
		exitErr("turn", err)
	}

	if formatFlag == "text" {
		fmt.Printf("%s turn %d recorded\n", turn.SessionID, turn.TurnIndex)
		return
	}
	printJSON(turn)
}
