// Command decibel is the project-memory tool daemon: a facade-based
// MCP tool server with stdio, HTTP, and bridge transports.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	// Load .env if present; real environment wins.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "decibel",
	Short:        "Decibel project-memory tool daemon",
	Long:         "Decibel records decisions, issues, wishes, and learnings for a project and serves them to agents over MCP and HTTP.",
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("decibel version %s\n", version))

	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBridgeCmd())
	rootCmd.AddCommand(newToolsCmd())
}
