package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/wazuh-puller/internal/logger"
)

var (
	errJobRequired = errors.New("job must be provided")
	errInvalidSpec = errors.New("invalid schedule")
)

// Job is one scheduled execution.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron expression, never overlapping executions.
type Scheduler struct {
	spec       string
	job        Job
	runOnStart bool
	runs       atomic.Int64
	failures   atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart executes the job once before waiting for the first tick.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// New validates spec, a standard five-field cron expression or a descriptor such as
// "@every 15m" or "@hourly".
func New(spec string, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, errJobRequired
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("%q: %w: %w", spec, errInvalidSpec, err)
	}

	s := &Scheduler{
		spec: spec,
		job:  job,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Runs returns how many executions finished.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Failures returns how many executions returned an error.
func (s *Scheduler) Failures() int64 {
	return s.failures.Load()
}

// Run blocks until ctx is cancelled, then waits for a running execution to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "scheduler")
	// Cron reports every wake-up at info level; only its warnings are worth keeping.
	cronLogger := &zapCronLogger{
		log: logger.FromContext(ctx).Desugar().Named("cron").WithOptions(logger.WithLevel(zapcore.WarnLevel)).Sugar(),
	}

	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	id, err := c.AddFunc(s.spec, func() { s.execute(ctx) })
	if err != nil {
		return fmt.Errorf("%q: %w: %w", s.spec, errInvalidSpec, err)
	}

	if s.runOnStart {
		// The wrapped job goes through the same chain as scheduled ticks.
		c.Entry(id).WrappedJob.Run()
	}

	logger.InfoKV(ctx, "Scheduler started", "schedule", s.spec)
	c.Start()

	<-ctx.Done()

	logger.Info(ctx, "Scheduler stopping, waiting for the running job")
	<-c.Stop().Done()

	return nil
}

func (s *Scheduler) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	err := s.job(ctx)
	s.runs.Add(1)

	if err != nil {
		s.failures.Add(1)
		logger.WarnKV(ctx, "Scheduled run failed, next tick will retry", "error", err)

		return
	}

	logger.Debugf(ctx, "Scheduled run %d finished", s.runs.Load())
}

// zapCronLogger adapts a zap logger to cron.Logger.
type zapCronLogger struct {
	log *zap.SugaredLogger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Infow(msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
