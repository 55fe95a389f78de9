// Package main is the entry point for the ecgmon CLI.
//
// The monitor can be run either as a library (SDK) or as a standalone binary
// configured by YAML and ECG_* environment variables. This CLI provides the
// standalone binary approach.
//
// Usage:
//
//	ecgmon serve -c ecg.yaml    # Start sampling and the HTTP API
//	ecgmon validate -c ecg.yaml # Validate configuration
//	ecgmon simulate --seconds 60 --bpm 130
//	ecgmon version              # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "ecgmon",
	Short: "A single-lead ECG monitor",
	Long: `ecgmon samples a single-lead ECG front end, detects R-peaks, derives
heart rate and flags cardiac events in real time.

It serves the live window, heart rate history and event flags over HTTP
(REST, Server-Sent Events and WebSocket), exports a zipped CSV report and
can publish heart rate and flag transitions to NATS.

Quick start:
  1. Run: ECG_SIMULATE=true ecgmon serve
  2. Open http://localhost:5000/api/data

Example config:
  sampling:
    rate: 250
  classifier:
    tachy_bpm: 110
  server:
    port: 5000
    shutdown_token: ${ECG_SHUTDOWN_TOKEN}`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this ecgmon binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ecgmon %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
