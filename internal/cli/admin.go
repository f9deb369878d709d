package cli

import (
	"github.com/spf13/cobra"

	"github.com/xiy/persona-memory/internal/admin"
)

func init() {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Open the live admin dashboard",
		Long:  "A terminal dashboard showing tier counts, sweep history, and recent memories, refreshed every two seconds.",
		Run:   runAdmin,
	}

	RootCmd.AddCommand(cmd)
}

func runAdmin(cmd *cobra.Command, args []string) {
	st, _, _, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if err := admin.Run(cmd.Context(), st); err != nil {
		exitErr("admin", err)
	}
}
