package main

import (
	"os"

	"github.com/lewisedginton/memory_vault/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
