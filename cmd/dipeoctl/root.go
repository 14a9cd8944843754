package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dipeoctl",
		Short:         "Run and inspect diagram-driven workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newValidateCmd())
	return root
}
