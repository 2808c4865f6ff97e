package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the evaluation dashboard",
		Long: `Start the HTTP server with the evaluation pages, the JSON API under
/api/v1, the comparison websocket and /metrics.

The working copy of the dataset is created on first use. Graceful shutdown is
handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func buildExtractCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "extract-images",
		Short: "Extract every image from the configured .eml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), cmd.OutOrStdout(), *configPath)
		},
	}
}

func buildFinalizeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Copy the working copy over the canonical dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFinalize(cmd.OutOrStdout(), *configPath)
		},
	}
}

func buildModelsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models and question count of the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd.OutOrStdout(), *configPath)
		},
	}
}
