package main

import (
	"fmt"

	"github.com/aretw0/pitcrew"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of pitcrew",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pitcrew version %s\n", pitcrew.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
