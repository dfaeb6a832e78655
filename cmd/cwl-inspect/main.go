// Package main provides the cwl-inspect CLI entry point.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cwl-inspect",
		Short: "CWL document inspector",
		Long:  `Parses a CWL v1.0 document, resolves its schema, and answers path, key, command-line, and predicted-output queries against it.`,
	}

	rootCmd.AddCommand(newInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
