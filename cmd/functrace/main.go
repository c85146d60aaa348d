// Package main implements the functrace CLI.
// It provides commands for inspecting program snapshots, walking function
// flowcharts, and emulating execution paths to recover runtime values.
package main

import (
	"fmt"
	"os"

	"github.com/avasek/functrace/cmd/functrace/commands"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("functrace %s", version)
			if buildTime != "" {
				fmt.Printf(" (built %s)", buildTime)
			}
			fmt.Println()
		},
	}
	commands.RootCmd.AddCommand(versionCmd)

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
