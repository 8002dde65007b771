package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/service/packager"
)

var (
	// packFormat is the bundle encoding name.
	packFormat string
	// packOutput is the bundle path or "-" for stdout.
	packOutput string
	// packAllowEmpty permits bundles without files.
	packAllowEmpty bool

	// packCmd builds a bundle from the configured directories.
	packCmd = &cobra.Command{
		Use:   "pack",
		Short: "Build a bundle from the rules and decoders directories.",
		Long: `Collects the eligible files of the configured rules and decoders directories and
writes them as a bundle the puller can deploy. Use it to prepare what the distribution
API serves, or to test a bundle offline. A YAML description with SHA-512 checksums is
written next to a file bundle.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			encoding, err := bundle.ParseEncoding(packFormat)
			if err != nil {
				return err
			}

			// Keep the bundle stream clean.
			if packOutput == packager.StdoutOutput {
				logger.UseStderr()
			}

			cfg, closeLog, err := loadSettings(ctx, cmd)
			if err != nil {
				return err
			}

			defer closeLog()

			return packager.Run(ctx, &packager.Options{
				RulesPath:    cfg.RulesPath,
				DecodersPath: cfg.DecodersPath,
				Pattern:      cfg.Pattern,
				Encoding:     encoding,
				Output:       packOutput,
				AllowEmpty:   packAllowEmpty,
				Stdout:       cmd.OutOrStdout(),
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	packCmd.Flags().StringVarP(&packFormat, "format", "f", "tar.gz", "bundle encoding: tar.gz, tar or json")
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "rules-bundle.tar.gz", `bundle path, "-" for stdout`)
	packCmd.Flags().BoolVar(&packAllowEmpty, "allow-empty", false, "write a bundle even without eligible files")

	rootCmd.AddCommand(packCmd)
}
