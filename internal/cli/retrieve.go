package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiy/persona-memory/pkg/types"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Retrieve memories ranked for a query",
		Long:  "Rank live memories against a query by lexical match, importance, and recency. Temporal cues such as \"last time\" switch to chronological recall.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRetrieve,
	}

	cmd.Flags().StringP("session", "s", "", "Session id to attribute the lookup to")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
	cmd.Flags().Bool("sweep", false, "Run a maintenance sweep before retrieving")

	RootCmd.AddCommand(cmd)
}

func runRetrieve(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")
	doSweep, _ := cmd.Flags().GetBool("sweep")
	query := strings.Join(args, " ")

	svc, st, err := openService(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if doSweep {
		if _, err := svc.Sweep(cmd.Context(), time.Now().UTC()); err != nil {
			exitErr("sweep", err)
		}
	}

	results, err := svc.Retrieve(cmd.Context(), types.RetrieveInput{
		Query:     query,
		SessionID: sessionID,
		Limit:     limit,
	})
	if err != nil {
		exitErr("retrieve", err)
	}

	if formatFlag == "text" {
		if len(results) == 0 {
			fmt.Println("(no matches)")
			return
		}
		for i, r := range results {
			fmt.Printf("%2d. [%.3f] %s  %s/%s  %s\n", i+1, r.Score, r.Record.ID, r.Record.Tier, r.Record.Kind, r.Record.Content)
		}
		return
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}
