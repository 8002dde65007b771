package puller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/repository/snapshot"
	"github.com/oshokin/wazuh-puller/internal/service/decoder"
	"github.com/oshokin/wazuh-puller/internal/service/deployer"
	"github.com/oshokin/wazuh-puller/internal/service/distribution"
)

// DefaultBackupKeep is the number of snapshots retained when no other value is configured.
const DefaultBackupKeep = 5

var (
	errIncompletePipeline = errors.New("pipeline is missing a component")
	errNoTransition       = errors.New("no transition from state")
)

// Remote is the distribution endpoint.
type Remote interface {
	Health(ctx context.Context) (*distribution.HealthStatus, error)
	Catalog(ctx context.Context) (*distribution.Catalog, error)
	Bundle(ctx context.Context) (*distribution.Bundle, error)
}

// Decoder turns bundle bytes into a FileSet.
type Decoder interface {
	Decode(ctx context.Context, data []byte, hint bundle.ContentEncoding) (*decoder.Result, error)
	Cleanup() error
}

// Backups snapshots and prunes the live directories.
type Backups interface {
	Snapshot(ctx context.Context, rulesDir, decodersDir string) (*snapshot.Snapshot, bundle.Outcome)
	Prune(ctx context.Context, keep int) *snapshot.PruneReport
}

// Deployer writes a FileSet into the live directories.
type Deployer interface {
	Deploy(ctx context.Context, files *bundle.FileSet, rulesDir, decodersDir string) (*deployer.Report, error)
}

// Pipeline wires the components of one pull.
type Pipeline struct {
	remote   Remote
	decoder  Decoder
	backups  Backups
	deployer Deployer

	rulesDir    string
	decodersDir string
	keep        int
	now         func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDirectories sets the live rules and decoders directories.
func WithDirectories(rulesDir, decodersDir string) PipelineOption {
	return func(p *Pipeline) {
		p.rulesDir = rulesDir
		p.decodersDir = decodersDir
	}
}

// WithBackupKeep sets how many snapshots survive pruning.
func WithBackupKeep(keep int) PipelineOption {
	return func(p *Pipeline) {
		if keep > 0 {
			p.keep = keep
		}
	}
}

// WithPipelineClock replaces the time source used for run timestamps.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline assembles a pipeline from its components.
func NewPipeline(
	remote Remote,
	dec Decoder,
	backups Backups,
	dep Deployer,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if remote == nil || dec == nil || backups == nil || dep == nil {
		return nil, errIncompletePipeline
	}

	p := &Pipeline{
		remote:   remote,
		decoder:  dec,
		backups:  backups,
		deployer: dep,
		keep:     DefaultBackupKeep,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// run carries the intermediate values between steps.
type run struct {
	result   *Result
	simulate bool
	bundle   *distribution.Bundle
	files    *bundle.FileSet
}

// Run walks the state machine until a terminal state or the simulation halt.
// The returned Result is never nil; Result.Err holds the cause of a failure.
func (p *Pipeline) Run(ctx context.Context, simulate bool) *Result {
	r := &run{
		result: &Result{
			RemoteCount:   -1,
			BackupOutcome: bundle.Skipped("not attempted"),
			PruneOutcome:  bundle.Skipped("not attempted"),
			StartedAt:     p.now(),
		},
		simulate: simulate,
	}

	r.result.enter(StateInit)

	for !r.result.State.IsTerminal() {
		next, err := p.step(ctx, r)
		if err != nil {
			p.fail(ctx, r, err)
			break
		}

		r.result.enter(next)

		if simulate && next == StateBackedUp {
			r.result.Simulated = true
			logger.Info(ctx, "Simulation mode, stopping after backup")

			break
		}
	}

	r.result.FinishedAt = p.now()

	return r.result
}

// step performs the work leaving the current state and returns the next state.
func (p *Pipeline) step(ctx context.Context, r *run) (State, error) {
	switch r.result.State {
	case StateInit:
		return StateHealthChecked, p.checkHealth(ctx, r)
	case StateHealthChecked:
		p.listCatalog(ctx, r)
		return StateListed, nil
	case StateListed:
		p.backup(ctx, r)
		return StateBackedUp, nil
	case StateBackedUp:
		return StateDownloaded, p.download(ctx, r)
	case StateDownloaded:
		return StateDecoded, p.decode(ctx, r)
	case StateDecoded:
		p.deploy(ctx, r)
		return StateDeployed, nil
	case StateDeployed:
		p.prune(ctx, r)
		return StatePruned, nil
	case StatePruned:
		return StateDone, nil
	default:
		return StateFailed, fmt.Errorf("%w %s", errNoTransition, r.result.State)
	}
}

// fail moves the run to StateFailed.
func (p *Pipeline) fail(ctx context.Context, r *run, err error) {
	from := r.result.State

	r.result.Err = err
	r.result.enter(StateFailed)

	// The scratch directory may be populated once decoding started.
	if from == StateDownloaded {
		p.cleanupScratch(ctx)
	}

	logger.ErrorKV(ctx, "Pipeline failed", "state", from, "error", err)
}

func (p *Pipeline) checkHealth(ctx context.Context, r *run) error {
	logger.Info(ctx, "Checking distribution endpoint health")

	status, err := p.remote.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	r.result.RemoteVersion = status.Version
	logger.InfoKV(ctx, "Distribution endpoint is healthy", "status", status.Status, "version", status.Version)

	return nil
}

// listCatalog is informational; failures never block the run.
func (p *Pipeline) listCatalog(ctx context.Context, r *run) {
	catalog, err := p.remote.Catalog(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Unable to list the remote catalog, continuing", "error", err)
		return
	}

	r.result.RemoteCount = catalog.Count
	logger.InfoKV(ctx, "Remote catalog listed", "count", catalog.Count)
}

// backup snapshots the live directories; a skipped backup is a warning only.
func (p *Pipeline) backup(ctx context.Context, r *run) {
	snap, outcome := p.backups.Snapshot(ctx, p.rulesDir, p.decodersDir)
	r.result.BackupOutcome = outcome

	if outcome.IsSkipped() {
		logger.WarnKV(ctx, "Proceeding without a backup", "reason", outcome.Reason)
		return
	}

	r.result.Backup = snap.Path
	logger.InfoKV(ctx, "Backup created", "path", snap.Path)
}

func (p *Pipeline) download(ctx context.Context, r *run) error {
	logger.Info(ctx, "Downloading rules bundle")

	b, err := p.remote.Bundle(ctx)
	if err != nil {
		return fmt.Errorf("download bundle: %w", err)
	}

	r.bundle = b
	r.result.BytesDownloaded = int64(len(b.Data))
	logger.InfoKV(ctx, "Bundle downloaded", "bytes", len(b.Data), "hint", b.Encoding)

	return nil
}

func (p *Pipeline) decode(ctx context.Context, r *run) error {
	decoded, err := p.decoder.Decode(ctx, r.bundle.Data, r.bundle.Encoding)
	if err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}

	r.files = decoded.Files
	r.result.Encoding = decoded.Encoding
	r.bundle = nil

	logger.InfoKV(ctx, "Bundle decoded",
		"encoding", decoded.Encoding,
		"rules", decoded.Files.Len(bundle.CategoryRules),
		"decoders", decoded.Files.Len(bundle.CategoryDecoders))

	return nil
}

// deploy records the counts whatever happened to individual files.
func (p *Pipeline) deploy(ctx context.Context, r *run) {
	report, err := p.deployer.Deploy(ctx, r.files, p.rulesDir, p.decodersDir)
	if err != nil {
		r.result.DeployErrors = err
		logger.WarnKV(ctx, "Deployment did not run", "error", err)

		return
	}

	r.result.RulesWritten = report.Rules
	r.result.DecodersWritten = report.Decoders
	r.result.DeployErrors = report.Errors

	if report.Errors != nil {
		logger.WarnKV(ctx, "Some files were not deployed", "error", report.Errors)
	}

	logger.InfoKV(ctx, "Deployment finished", "rules", report.Rules, "decoders", report.Decoders)
}

// prune cleans the scratch directory and applies the retention policy, best effort.
func (p *Pipeline) prune(ctx context.Context, r *run) {
	p.cleanupScratch(ctx)

	report := p.backups.Prune(ctx, p.keep)
	r.result.PruneOutcome = report.Outcome
	r.result.BackupsKept = report.Kept

	if report.Outcome.IsSkipped() {
		logger.WarnKV(ctx, "Backup pruning incomplete", "reason", report.Outcome.Reason)
		return
	}

	logger.Infof(ctx, "Pruned %d old backups, %d kept", len(report.Removed), report.Kept)
}

func (p *Pipeline) cleanupScratch(ctx context.Context) {
	if err := p.decoder.Cleanup(); err != nil {
		logger.WarnKV(ctx, "Unable to remove scratch directory", "error", err)
	}
}
