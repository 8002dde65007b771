package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd prints the effective configuration.
var configCmd = &cobra.Command{
	Use:           "config",
	Short:         "Print the effective configuration as YAML, with the API key masked.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, closeLog, err := loadSettings(context.Background(), cmd)
		if err != nil {
			return err
		}

		defer closeLog()

		contents, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(contents)

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(configCmd)
}
