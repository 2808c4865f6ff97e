// Command nl2sql-eval serves the NL2SQL human-evaluation dashboard and
// provides maintenance commands for its dataset and chart images.
//
//	nl2sql-eval serve --config config.yaml
//	nl2sql-eval extract-images
//	nl2sql-eval finalize
//	nl2sql-eval models
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "nl2sql-eval",
		Short:         "NL2SQL human-evaluation dashboard",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default: ./config.yaml if present)")

	root.AddCommand(
		buildServeCmd(&configPath),
		buildExtractCmd(&configPath),
		buildFinalizeCmd(&configPath),
		buildModelsCmd(&configPath),
	)
	return root
}
