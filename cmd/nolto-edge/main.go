// Package main is the entry point for the nolto-edge binary.
// It serves the fediverse edge and exposes the handle resolver on the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for nolto-edge
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nolto-edge",
		Short: "Fediverse edge for Nolto",
		Long: `Serves the public edge of a Nolto deployment: the webfinger discovery proxy,
the actor-inbox redirector and the handle API.

Example:
  WEBFINGER_UPSTREAM_URL=https://api.example/functions/v1/webfinger \
  NOLTO_BACKEND_BASE_URL=https://api.example/functions/v1 \
  nolto-edge serve --addr :8080`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(), newHandleCmd(), newResolveCmd())

	return rootCmd
}
