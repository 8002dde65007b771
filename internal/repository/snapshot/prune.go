package snapshot

import (
	"context"
	"fmt"
	"slices"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
)

// PruneReport summarizes a retention pass.
type PruneReport struct {
	// Kept is the number of snapshots left in place.
	Kept int
	// Removed lists the names of deleted snapshots.
	Removed []string
	// Failed maps snapshot names to the error that prevented their removal.
	Failed map[string]error
	// Outcome is Skipped when listing failed or any removal failed.
	Outcome bundle.Outcome
}

// Prune deletes all but the keep most recent snapshots.
// Failures are logged and reported, never returned: pruning cannot abort a run.
func (r *Repository) Prune(ctx context.Context, keep int) *PruneReport {
	report := &PruneReport{
		Failed:  make(map[string]error),
		Outcome: bundle.Succeeded(),
	}

	keep = max(keep, 0)

	snapshots, err := r.List(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Unable to list backups for pruning", "error", err)
		report.Outcome = bundle.Skipped(err.Error())

		return report
	}

	if len(snapshots) <= keep {
		report.Kept = len(snapshots)
		return report
	}

	expired := snapshots[:len(snapshots)-keep]
	report.Kept = keep

	for _, snap := range expired {
		if err = r.removeAll(snap.Path); err != nil {
			logger.WarnKV(ctx, "Unable to remove old backup", "path", snap.Path, "error", err)
			report.Failed[snap.Name] = err
			report.Kept++

			continue
		}

		logger.DebugKV(ctx, "Removed old backup", "path", snap.Path)
		report.Removed = append(report.Removed, snap.Name)
	}

	if len(report.Failed) > 0 {
		report.Outcome = bundle.Skipped(fmt.Sprintf("%d of %d old backups could not be removed",
			len(report.Failed), len(expired)))
	}

	return report
}

// sortSnapshots orders snapshots from oldest to newest by encoded timestamp,
// then by collision suffix.
func sortSnapshots(snapshots []*Snapshot) {
	slices.SortFunc(snapshots, func(a, b *Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return a.sequence - b.sequence
	})
}
