package puller

import (
	"context"
	"fmt"
	"time"

	"github.com/oshokin/wazuh-puller/internal/config"
	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/repository/snapshot"
	"github.com/oshokin/wazuh-puller/internal/service/deployer"
)

// RestoreOptions are inputs accepted by Restore.
type RestoreOptions struct {
	// Config holds validated settings.
	Config *config.Config
	// Backup is the snapshot name; empty selects the most recent one.
	Backup string
	// SkipVerify deploys without checking the manifest digests.
	SkipVerify bool
	// SkipSafetyBackup does not snapshot the live directories before restoring.
	SkipSafetyBackup bool
}

// RestoreResult describes a restore.
type RestoreResult struct {
	// Backup is the name of the restored snapshot.
	Backup string
	// SafetyBackup is the path of the snapshot taken before restoring, if any.
	SafetyBackup string
	// Rules and Decoders are the restored file counts.
	Rules, Decoders int
	// Errors joins per-file write failures.
	Errors error
}

// BackupInfo summarizes a snapshot for listing.
type BackupInfo struct {
	// Name of the snapshot directory.
	Name string
	// Path of the snapshot directory.
	Path string
	// CreatedAt is decoded from the name.
	CreatedAt time.Time
	// Files is the number of files recorded in the manifest, or -1 without a manifest.
	Files int
}

// Restore redeploys a snapshot over the live directories with the deployer's replace
// semantics. It runs under the same marker as a pull.
func Restore(ctx context.Context, opts *RestoreOptions) (*RestoreResult, error) {
	if opts == nil || opts.Config == nil {
		return nil, errConfigRequired
	}

	ctx = logger.WithName(ctx, "wazuh-puller-restore")
	cfg := opts.Config

	guard := newRunGuard(cfg.BackupPath)
	if err := guard.Acquire(ctx); err != nil {
		return nil, err
	}

	defer guard.Release(ctx)

	repo := snapshot.NewRepository(cfg.BackupPath)

	snap, err := selectBackup(ctx, repo, opts.Backup)
	if err != nil {
		return nil, err
	}

	if !opts.SkipVerify {
		if err = repo.Verify(snap); err != nil {
			return nil, fmt.Errorf("verify backup %s: %w", snap.Name, err)
		}
	}

	files, err := repo.Load(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("load backup %s: %w", snap.Name, err)
	}

	dep, err := deployer.New(deployer.WithPattern(cfg.Pattern))
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{Backup: snap.Name}

	if !opts.SkipSafetyBackup {
		safety, outcome := repo.Snapshot(ctx, cfg.RulesPath, cfg.DecodersPath)
		if outcome.IsSkipped() {
			logger.WarnKV(ctx, "Restoring without a safety backup", "reason", outcome.Reason)
		} else {
			result.SafetyBackup = safety.Path
		}
	}

	logger.InfoKV(ctx, "Restoring backup", "backup", snap.Name,
		"rules", files.Len(bundle.CategoryRules), "decoders", files.Len(bundle.CategoryDecoders))

	report, err := dep.Deploy(ctx, files, cfg.RulesPath, cfg.DecodersPath)
	if err != nil {
		return nil, fmt.Errorf("restore backup %s: %w", snap.Name, err)
	}

	result.Rules = report.Rules
	result.Decoders = report.Decoders
	result.Errors = report.Errors

	logger.InfoKV(ctx, "Backup restored", "backup", snap.Name, "rules", report.Rules, "decoders", report.Decoders)

	return result, nil
}

// ListBackups returns the snapshots of the backup root from oldest to newest.
func ListBackups(ctx context.Context, cfg *config.Config) ([]BackupInfo, error) {
	if cfg == nil {
		return nil, errConfigRequired
	}

	repo := snapshot.NewRepository(cfg.BackupPath)

	snapshots, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]BackupInfo, 0, len(snapshots))

	for _, snap := range snapshots {
		info := BackupInfo{
			Name:      snap.Name,
			Path:      snap.Path,
			CreatedAt: snap.CreatedAt,
			Files:     -1,
		}

		if manifest, err := repo.Manifest(snap); err == nil {
			info.Files = len(manifest.Files)
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func selectBackup(ctx context.Context, repo *snapshot.Repository, name string) (*snapshot.Snapshot, error) {
	if name == "" {
		return repo.Latest(ctx)
	}

	return repo.Find(ctx, name)
}
