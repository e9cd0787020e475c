package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a read-only consistency check for a user",
		Long:  "Compare the user's durable document against the metadata and vector indexes and report divergence without changing anything.",
		Run:   runCheck,
	}
	RootCmd.AddCommand(cmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	if err := requireUser(); err != nil {
		exitErr("check", err)
	}

	srv, cleanup, err := bootstrap(cmd.Context())
	if err != nil {
		exitErr("bootstrap", err)
	}
	defer cleanup()

	report, err := srv.Reconciler().Check(cmd.Context(), userFlag)
	if err != nil {
		exitErr("check", err)
	}
	printJSON(report)
}
