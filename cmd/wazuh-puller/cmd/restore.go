package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/service/puller"
)

var (
	// skipVerify restores without checking the backup digests.
	skipVerify bool
	// skipSafetyBackup restores without snapshotting the live directories first.
	skipSafetyBackup bool

	// restoreCmd redeploys a backup.
	restoreCmd = &cobra.Command{
		Use:   "restore [backup-name]",
		Short: "Restore the live directories from a backup.",
		Long: `Redeploys a backup snapshot over the live rules and decoders directories.

Without an argument the most recent backup is restored. The backup digests are verified
first, and the current live directories are backed up before they are replaced.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, closeLog, err := loadSettings(ctx, cmd)
			if err != nil {
				return err
			}

			defer closeLog()

			var name string
			if len(args) > 0 {
				name = args[0]
			}

			result, err := puller.Restore(ctx, &puller.RestoreOptions{
				Config:           cfg,
				Backup:           name,
				SkipVerify:       skipVerify,
				SkipSafetyBackup: skipSafetyBackup,
			})
			if err != nil {
				return err
			}

			if result.Errors != nil {
				logger.WarnKV(ctx, "Some files were not restored", "error", result.Errors)
			}

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	restoreCmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "do not verify the backup digests")
	restoreCmd.Flags().BoolVar(&skipSafetyBackup, "no-backup", false, "do not back up the live directories first")

	rootCmd.AddCommand(restoreCmd)
}
