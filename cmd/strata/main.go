package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Strata JSON:API resource server",
		Long: `Strata serves registered resources over a JSON:API 1.0 HTTP interface,
backed by PostgreSQL with an optional Redis response cache.`,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
