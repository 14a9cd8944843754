package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sorryhyun/dipeo-engine-go/diagram"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <diagram-file>",
		Short: "Parse and validate a diagram without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := diagram.Load(args[0])
			if err != nil {
				return err
			}
			g, persons, apiKeys, err := diagram.Build(doc)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "diagram is valid: %d nodes, %d arrows, %d persons, %d api keys\n",
				len(g.Nodes), len(g.Arrows), len(persons), len(apiKeys))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"startNode": g.StartNode,
				"order":     g.Order,
			})
		},
	}
	return cmd
}
