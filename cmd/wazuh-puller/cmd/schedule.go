package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/wazuh-puller/internal/service/puller"
	"github.com/oshokin/wazuh-puller/internal/service/scheduler"
)

var (
	// scheduleSpec overrides the configured schedule.
	scheduleSpec string
	// scheduleNow runs a pull immediately before the first tick.
	scheduleNow bool

	// scheduleCmd repeats the pull until interrupted.
	scheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Pull repeatedly on a cron schedule.",
		Long: `Runs the pull on a cron expression (five fields, or descriptors such as
"@every 15m") until SIGINT or SIGTERM. Runs never overlap; a failed run is logged and
the next tick tries again.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, closeLog, err := loadSettings(ctx, cmd)
			if err != nil {
				return err
			}

			defer closeLog()

			spec := cfg.Schedule
			if scheduleSpec != "" {
				spec = scheduleSpec
			}

			s, err := scheduler.New(spec, func(ctx context.Context) error {
				_, err := puller.Run(ctx, &puller.Options{Config: cfg, Simulate: simulate})
				return err
			}, scheduler.WithRunOnStart(scheduleNow))
			if err != nil {
				return err
			}

			return s.Run(ctx)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	scheduleCmd.Flags().StringVar(&scheduleSpec, "every", "", "cron expression overriding the configured schedule")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "pull once immediately")
	scheduleCmd.Flags().BoolVar(&simulate, "dry-run", false, "stop every run after the backup")

	rootCmd.AddCommand(scheduleCmd)
}
