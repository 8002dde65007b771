package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/wazuh-puller/internal/config"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/service/puller"
	"github.com/oshokin/wazuh-puller/internal/version"
)

var (
	// simulate stops the pipeline after the backup.
	simulate bool

	// rootCmd runs a single pull.
	rootCmd = &cobra.Command{
		Use:   "wazuh-puller",
		Short: "Pull Wazuh rules and decoders from the distribution API.",
		Long: `Downloads the current rules bundle from the distribution API and deploys it
into the local Wazuh rules and decoders directories.

Every run checks the endpoint health, backs up the live directories, downloads and
decodes the bundle (tar.gz, tar or json), replaces the deployed .xml files and prunes
old backups. Settings come from defaults, an optional YAML file, the environment
(API_URL, API_KEY, SERVER_ID, RULES_PATH, DECODERS_PATH, BACKUP_PATH, LOG_FILE or their
WAZUH_PULLER_ prefixed forms) and the flags below, in increasing precedence.

Exits with a non-zero status when the pull fails.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, closeLog, err := loadSettings(ctx, cmd)
			if err != nil {
				return err
			}

			defer closeLog()

			_, err = puller.Run(ctx, &puller.Options{
				Config:   cfg,
				Simulate: simulate,
			})

			return err
		},
	}
)

// Execute runs the wazuh-puller CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf(context.Background(), "%s failed: %v", rootCmd.Name(), err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.Flags().BoolVar(&simulate, "dry-run", false, "back up the live directories and stop without downloading")
	rootCmd.Flags().BoolVar(&simulate, "simulate", false, "alias of --dry-run")
}

// loadSettings reads the configuration and applies the logging settings.
// The returned function detaches the log file.
func loadSettings(ctx context.Context, cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, func() {}, err
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	} else {
		logger.WarnKV(ctx, "Unknown log level, keeping the default", "level", cfg.LogLevel)
	}

	closeLog := func() {}

	if cfg.LogFile != "" {
		closer, err := logger.AddFileOutput(cfg.LogFile)
		if err != nil {
			logger.WarnKV(ctx, "Unable to open log file, logging to stdout only", "path", cfg.LogFile, "error", err)
		} else {
			closeLog = closer
		}
	}

	return cfg, closeLog, nil
}
