// Package cmd implements the aspenctl CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	policiesPath string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "aspenctl",
	Short: "Policy authoring tool for the Aspen decision engine",
	Long: `aspenctl works on a directory of .aspen policy documents.

It validates documents without starting a server and evaluates
ad-hoc authorization subscriptions against them, printing the
decision together with its obligations, advice and transformed
resource.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&policiesPath, "policies", "p", "./policies", "Directory of .aspen policy documents")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
}

func Execute() error {
	return rootCmd.Execute()
}
