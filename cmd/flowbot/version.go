package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/flowbot"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of flowbot",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "flowbot version %s\n", strings.TrimSpace(flowbot.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
