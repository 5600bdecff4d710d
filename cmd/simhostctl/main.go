// simhostctl is a command-line client for the simhostd control plane:
// login, container/match lifecycle, command submission, and snapshot
// inspection against a running daemon's REST API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit string
)

var flagServer string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "simhostctl",
		Short:         "simhostctl — client for the simulation-hosting platform's control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagServer, "server", envOr("SIMHOSTCTL_SERVER", "http://localhost:8080"), "simhostd base URL")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newContainerCmd(),
		newMatchCmd(),
		newCommandCmd(),
		newSnapshotCmd(),
		newShellCmd(),
		newVersionCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (git: %s)", gitCommit)
			}
			fmt.Printf("simhostctl %s\n", v)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
