// Package main is barcodectl, a command line client for a barcodedrop server.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "barcodectl",
	Short: "Command line client for a barcodedrop server",
	Long: `barcodectl records scans, lists them and follows a user's live
scan list over the server's WebSocket sync endpoint.`,
	SilenceUsage: true,
}

func init() {
	defaultServer := os.Getenv("BARCODEDROP_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "Server base URL (env BARCODEDROP_SERVER)")

	rootCmd.AddCommand(scanCmd, scansCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// endpoint joins the server base URL and path.
func endpoint(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// fail prints err and exits.
func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
