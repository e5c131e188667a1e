// Jsonwire-server is a multi-client TCP server that speaks a stream of
// back-to-back JSON documents.
//
// Each client connection gets its own worker that frames incoming bytes into
// JSON objects, dispatches them by "type" and writes one reply per document.
// An optional HTTP side listener serves /healthz, /status and a WebSocket
// gateway onto the same workers.
//
// Usage:
//
//	jsonwire-server server [flags]
//	jsonwire-server send '{"type":"userLogin","login":"bob","password":"x"}'
//	jsonwire-server discover
//	jsonwire-server watch
//
// See 'jsonwire-server --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/jsonwire/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jsonwire-server",
	Short: "JSON stream TCP server",
	Long: `A multi-client TCP server for streams of back-to-back JSON documents.

Run 'jsonwire-server server' to accept connections. The send, discover and
watch commands are small clients for poking at a running server.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Global flags
var configPath string

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml or the user config dir)")

	rootCmd.AddCommand(versionCmd)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("jsonwire-server %s\n", version.Full())
	},
}
