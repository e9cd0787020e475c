package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "set-credential <token>",
		Short: "Store a user's durable store credential",
		Long:  "Register or rotate the access token used for a user's durable document container.",
		Args:  cobra.ExactArgs(1),
		Run:   runSetCredential,
	}
	RootCmd.AddCommand(cmd)
}

func runSetCredential(cmd *cobra.Command, args []string) {
	if err := requireUser(); err != nil {
		exitErr("set-credential", err)
	}

	srv, cleanup, err := bootstrap(cmd.Context())
	if err != nil {
		exitErr("bootstrap", err)
	}
	defer cleanup()

	if err := srv.Resolver().SetCredential(cmd.Context(), userFlag, args[0]); err != nil {
		exitErr("set-credential", err)
	}
	fmt.Printf(`{"ok":true,"user":%q}`+"\n", userFlag)
}
