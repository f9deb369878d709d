package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiy/persona-memory/pkg/types"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Record an utterance and form a memory from it",
		Long:  "Score an utterance, store it in the right tier, and link it to related memories. Text can be a positional arg or piped via stdin.",
		Run:   runIngest,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (a new session is opened when omitted)")
	cmd.Flags().String("speaker", "user", "Speaker: user or ai")
	cmd.Flags().StringP("refs", "r", "", "Comma-separated ids of memories this utterance references")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	speaker, _ := cmd.Flags().GetString("speaker")
	refsStr, _ := cmd.Flags().GetString("refs")

	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			text = string(b)
		}
	}

	if strings.TrimSpace(text) == "" {
		exitErr("ingest", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	svc, st, err := openService(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if sessionID == "" {
		sess, err := svc.OpenSession(cmd.Context())
		if err != nil {
			exitErr("open session", err)
		}
		sessionID = sess.ID
		fmt.Fprintf(os.Stderr, "opened session %s\n", sessionID)
	}

	rec, err := svc.Ingest(cmd.Context(), types.IngestInput{
		Text:       strings.TrimSpace(text),
		SessionID:  sessionID,
		Speaker:    speaker,
		References: splitCSV(refsStr),
	})
	if err != nil {
		exitErr("ingest", err)
	}

	if formatFlag == "text" {
		fmt.Printf("%s  %s/%s  importance=%.2f  %s\n", rec.ID, rec.Tier, rec.Kind, rec.Importance, rec.Content)
		return
	}
	printJSON(rec)
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
