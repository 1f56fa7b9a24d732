// Package main provides the codecrew binary: a multi-agent coding workflow
// server and its terminal viewer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName = "codecrew"
	version = "1.0.0"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-agent coding workflow server",
		Long: `Codecrew orchestrates a team of coding agents through a single
shared workflow: an orchestrator plans, a coder implements, a tester
verifies, and finished functions are finalized as tracked artifacts.

The serve command runs the HTTP server; watch attaches a terminal
viewer to a running server.`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(watchCmd(&configPath))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, version)
		},
	})
	return cmd
}
