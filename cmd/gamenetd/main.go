// Command gamenetd runs a gamenet socket server and offers a ping client for
// checking one from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "gamenetd",
		Short:         "Non-blocking TCP socket server",
		Long:          `gamenetd accepts length-prefixed binary frames and plain HTTP requests on one port and multiplexes every connection on a single poll loop.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		pingCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
