package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patchtrack/patchtrack/internal/common"
	"github.com/patchtrack/patchtrack/internal/ingester"
	"github.com/patchtrack/patchtrack/internal/ingester/configuration"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patchtrackctl",
		Short: "patchtrackctl operates the patchtrack ingestion service.",
	}

	cmd.PersistentFlags().StringSlice("config", []string{}, "Fully qualified path to application configuration file")

	cmd.AddCommand(
		deadLetterCmd(),
		fetchCmd(),
	)

	return cmd
}

func loadApp(cmd *cobra.Command) *ingester.App {
	overrides, _ := cmd.Flags().GetStringSlice("config")
	_ = viper.BindPFlags(cmd.Flags())

	var config configuration.ApplicationConfig
	common.LoadConfig(&config, "./config/patchtrack", overrides)
	return ingester.NewApp(&config)
}
