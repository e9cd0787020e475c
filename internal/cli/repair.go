package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair index divergence for a user",
		Long:  "Run a consistency pass and fix what can be fixed: delete orphaned index rows, restore missing metadata rows and embeddings. Duplicate embeddings are reported but never auto-resolved.",
		Run:   runRepair,
	}
	RootCmd.AddCommand(cmd)
}

func runRepair(cmd *cobra.Command, args []string) {
	if err := requireUser(); err != nil {
		exitErr("repair", err)
	}

	srv, cleanup, err := bootstrap(cmd.Context())
	if err != nil {
		exitErr("bootstrap", err)
	}
	defer cleanup()

	report, err := srv.Reconciler().Repair(cmd.Context(), userFlag)
	if err != nil {
		exitErr("repair", err)
	}
	printJSON(report)
}
