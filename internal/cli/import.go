package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lewisedginton/memory_vault/internal/orchestrator"
)

var importFile string

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import memories from JSON",
		Long:  "Import memories from a JSON array (stdin or --file) for a user. Each item is {content, source, tags}; categorization is best-effort and failed items are skipped, not fatal.",
		Run:   runImport,
	}
	cmd.Flags().StringVarP(&importFile, "file", "f", "", "Read items from file instead of stdin")
	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	if err := requireUser(); err != nil {
		exitErr("import", err)
	}

	var data []byte
	var err error
	if importFile != "" {
		data, err = os.ReadFile(importFile)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var items []orchestrator.ImportItem
	if err := json.Unmarshal(data, &items); err != nil {
		exitErr("parse json", err)
	}

	srv, cleanup, err := bootstrap(cmd.Context())
	if err != nil {
		exitErr("bootstrap", err)
	}
	defer cleanup()

	report, err := srv.Engine().ImportMemories(cmd.Context(), userFlag, items)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(report)
}
