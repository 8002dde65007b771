package cmd

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/wazuh-puller/internal/service/puller"
)

// listBackupsCmd prints the snapshots of the backup root.
var listBackupsCmd = &cobra.Command{
	Use:           "list-backups",
	Short:         "List backup snapshots, oldest first.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()

		cfg, closeLog, err := loadSettings(ctx, cmd)
		if err != nil {
			return err
		}

		defer closeLog()

		backups, err := puller.ListBackups(ctx, cfg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tCREATED\tFILES\tPATH")

		for _, backup := range backups {
			files := "?"
			if backup.Files >= 0 {
				files = strconv.Itoa(backup.Files)
			}

			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				backup.Name, backup.CreatedAt.Format(time.RFC3339), files, backup.Path)
		}

		return w.Flush()
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(listBackupsCmd)
}
