package main

import (
	"fmt"

	"github.com/aretw0/pitcrew/internal/presentation/graph"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the workflow state machine as a Mermaid flowchart",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(domain.Transitions, nil))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
