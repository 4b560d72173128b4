package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "planwatch",
		Short:         "Project-execution tracking engine",
		Long:          "planwatch keeps a database-backed plan in sync with reality: spreadsheet imports are smart-merged, deadlines are chased through escalating status checks, and approved delays cascade through the dependency graph.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newImportCmd())
	return root
}
