package puller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/wazuh-puller/internal/config"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/metrics"
	"github.com/oshokin/wazuh-puller/internal/repository/snapshot"
	"github.com/oshokin/wazuh-puller/internal/service/decoder"
	"github.com/oshokin/wazuh-puller/internal/service/deployer"
	"github.com/oshokin/wazuh-puller/internal/service/distribution"
)

var (
	errConfigRequired = errors.New("configuration must be provided")
	errRunFailed      = errors.New("pull failed")
)

// Options are inputs accepted by the puller entry point.
type Options struct {
	// Config holds validated settings.
	Config *config.Config
	// Simulate stops the run after the backup.
	Simulate bool
	// HTTPClient replaces the default HTTP client, mostly for tests.
	HTTPClient *http.Client
}

// Run executes one pull and is the public entry point for the CLI and the scheduler.
// The Result is returned even on failure so callers can report how far the run got.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	if opts == nil || opts.Config == nil {
		return nil, errConfigRequired
	}

	cfg := opts.Config
	runID := uuid.NewString()

	ctx = logger.WithName(ctx, "wazuh-puller")
	ctx = logger.WithKV(ctx, "run_id", runID)

	result, err := runPipeline(ctx, cfg, opts)
	if result == nil {
		now := time.Now()
		result = &Result{RunID: runID, RemoteCount: -1, StartedAt: now, FinishedAt: now}
		result.enter(StateInit)
		result.Err = err
		result.enter(StateFailed)
	}

	result.RunID = runID

	writeMetrics(ctx, cfg.MetricsFile, result)

	if !result.Success() {
		if result.Err != nil {
			return result, result.Err
		}

		return result, errRunFailed
	}

	logger.InfoKV(ctx, "Pull completed",
		"state", result.State,
		"simulated", result.Simulated,
		"rules", result.RulesWritten,
		"decoders", result.DecodersWritten)

	return result, nil
}

// runPipeline builds the components and walks the pipeline under the run marker.
// A nil Result means the pipeline could not be started.
func runPipeline(ctx context.Context, cfg *config.Config, opts *Options) (*Result, error) {
	if err := config.ValidateRemote(cfg); err != nil {
		logger.ErrorKV(ctx, "Invalid configuration", "error", err)
		return nil, err
	}

	pipeline, err := newPipeline(cfg, opts.HTTPClient)
	if err != nil {
		logger.ErrorKV(ctx, "Unable to initialize the pipeline", "error", err)
		return nil, err
	}

	guard := newRunGuard(cfg.BackupPath)
	if err = guard.Acquire(ctx); err != nil {
		logger.ErrorKV(ctx, "Refusing to run", "error", err)
		return nil, err
	}

	defer guard.Release(ctx)

	return pipeline.Run(ctx, opts.Simulate), nil
}

// newPipeline wires the production components from the configuration.
func newPipeline(cfg *config.Config, httpClient *http.Client) (*Pipeline, error) {
	client, err := distribution.New(cfg.APIURL, cfg.APIKey,
		distribution.WithHTTPClient(httpClient),
		distribution.WithServerID(cfg.ServerID),
		distribution.WithTimeouts(distribution.Timeouts{
			Health:  cfg.Timeouts.Health,
			Catalog: cfg.Timeouts.Catalog,
			Bundle:  cfg.Timeouts.Bundle,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create distribution client: %w", err)
	}

	dep, err := deployer.New(deployer.WithPattern(cfg.Pattern))
	if err != nil {
		return nil, fmt.Errorf("create deployer: %w", err)
	}

	return NewPipeline(
		client,
		decoder.New(cfg.ScratchPath),
		snapshot.NewRepository(cfg.BackupPath),
		dep,
		WithDirectories(cfg.RulesPath, cfg.DecodersPath),
		WithBackupKeep(cfg.BackupKeep),
	)
}

// writeMetrics publishes the result when a metrics file is configured; failures are logged.
func writeMetrics(ctx context.Context, path string, result *Result) {
	if path == "" {
		return
	}

	collector := metrics.NewCollector()
	collector.Observe(result.Metrics())

	if err := collector.WriteFile(path); err != nil {
		logger.WarnKV(ctx, "Unable to write metrics", "path", path, "error", err)
	}
}
