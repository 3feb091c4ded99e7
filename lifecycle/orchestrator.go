// Package lifecycle drives one pipeline run: upsert the definition, start an
// execution, poll it until it reaches a terminal status or the wait budget is
// spent, then report the steps and the final status.
//
// The orchestrator never retries a remote call and never cancels the remote
// execution. A run that times out leaves the execution running.
package lifecycle

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"pipeline-runner/logger"
	"pipeline-runner/metrics"
	"pipeline-runner/pipeline"
	"pipeline-runner/report"
)

const (
	DefaultPollInterval = 60 * time.Second
	DefaultMaxWait      = 120 * time.Minute
)

// Config is the polling budget. At most MaxWait/PollInterval ticks are waited.
type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: DefaultPollInterval, MaxWait: DefaultMaxWait}
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 || c.MaxWait <= 0 {
		return errors.Newf("poll interval and max wait must be positive (got %s, %s)", c.PollInterval, c.MaxWait)
	}
	if c.PollInterval > c.MaxWait {
		return errors.Newf("poll interval %s exceeds max wait %s", c.PollInterval, c.MaxWait)
	}
	return nil
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator runs the upsert, start, poll and report sequence.
type Orchestrator struct {
	config   Config
	reporter *report.Reporter
	logger   *zap.SugaredLogger
	metrics  *metrics.Recorder
	sleep    SleepFunc
}

type Option func(*Orchestrator)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleep replaces the wall-clock sleep, e.g. to compress time in tests.
func WithSleep(s SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

func New(cfg Config, reporter *report.Reporter, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, pipeline.ArgumentError(err, "invalid polling budget")
	}
	o := &Orchestrator{
		config:   cfg,
		reporter: reporter,
		logger:   logger.Named("lifecycle"),
		sleep:    sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Outcome is the result of a run that reached a terminal or stopped status.
type Outcome struct {
	ExecutionArn string
	Status       pipeline.ExecutionStatus
	Steps        []pipeline.Step
	// Polls counts Describe calls, including the one made right after start.
	Polls   int
	Elapsed time.Duration
}

func (o *Outcome) ExitCode() int {
	return pipeline.ExitCode(o.Status)
}

// Render prints the definition of def without touching the service.
func (o *Orchestrator) Render(def pipeline.Definition) (string, error) {
	raw, err := def.Definition()
	if err != nil {
		return "", pipeline.ResolutionError(err, "failed to render definition of %s", def.Name())
	}
	if err := o.reporter.Definition(def.Name(), raw); err != nil {
		return "", pipeline.ResolutionError(err, "definition of %s is not valid JSON", def.Name())
	}
	return raw, nil
}

// Run upserts def, starts a new execution and waits for it. A non-nil error
// means the run was aborted or timed out; otherwise the Outcome carries the
// final status, which may itself be a failure.
func (o *Orchestrator) Run(ctx context.Context, def pipeline.Definition, req pipeline.UpsertRequest) (*Outcome, error) {
	if req.RoleArn == "" {
		return nil, pipeline.ArgumentError(errors.New("role ARN is required"), "cannot upsert %s", def.Name())
	}
	log := o.logger.With(logger.FieldPipeline, def.Name())

	if _, err := o.Render(def); err != nil {
		return nil, err
	}

	upserted, err := def.Upsert(ctx, req)
	if err != nil {
		return nil, pipeline.RemoteCallError(err, "failed to upsert pipeline %s", def.Name())
	}
	if upserted == nil {
		return nil, pipeline.RemoteCallError(errors.New("no upsert result"), "failed to upsert pipeline %s", def.Name())
	}
	o.reporter.UpsertResponse(upserted)
	log.Infow("Pipeline upserted", "arn", upserted.PipelineArn, "action", upserted.Action)

	execution, err := def.Start(ctx)
	if err != nil {
		return nil, pipeline.RemoteCallError(err, "failed to start pipeline %s", def.Name())
	}
	if execution == nil {
		return nil, pipeline.RemoteCallError(errors.New("no execution returned"), "failed to start pipeline %s", def.Name())
	}
	o.reporter.ExecutionStarted(execution.Arn())
	log = log.With(logger.FieldExecutionArn, execution.Arn())

	outcome := &Outcome{ExecutionArn: execution.Arn()}
	status, err := o.describe(ctx, execution, outcome)
	if err != nil {
		return nil, err
	}
	o.reporter.Status(status)
	o.reporter.Waiting(o.config.MaxWait)

	// Stopped is terminal here: polling ends and the steps are still reported.
	for !status.IsTerminal() {
		if err := o.sleep(ctx, o.config.PollInterval); err != nil {
			return nil, errors.Wrapf(err, "interrupted while waiting for %s", execution.Arn())
		}
		outcome.Elapsed += o.config.PollInterval
		o.metrics.Tick(outcome.Elapsed.Seconds())

		if outcome.Elapsed >= o.config.MaxWait {
			o.metrics.TimedOut()
			log.Errorw("Gave up waiting for execution",
				logger.FieldElapsed, outcome.Elapsed,
				logger.FieldPolls, outcome.Polls,
				logger.FieldStatus, status)
			return nil, errors.Wrapf(pipeline.ErrTimeout,
				"job timed out after %d seconds; execution %s was left running",
				int(outcome.Elapsed.Seconds()), execution.Arn())
		}

		status, err = o.describe(ctx, execution, outcome)
		if err != nil {
			return nil, err
		}
		o.reporter.Status(status)
		log.Debugw("Polled execution", logger.FieldStatus, status, logger.FieldElapsed, outcome.Elapsed)
	}
	if status == pipeline.StatusStopped {
		o.reporter.Stopped()
		log.Warnw("Execution was stopped before completing")
	}
	outcome.Status = status
	o.metrics.Final(status)

	steps, err := execution.ListSteps(ctx)
	if err != nil {
		return nil, pipeline.RemoteCallError(err, "failed to list steps of %s", execution.Arn())
	}
	outcome.Steps = steps
	o.reporter.Steps(steps)
	o.reporter.FinalStatus(status)

	log.Infow("Execution finished",
		logger.FieldStatus, status,
		logger.FieldPolls, outcome.Polls,
		logger.FieldElapsed, outcome.Elapsed)
	return outcome, nil
}

func (o *Orchestrator) describe(ctx context.Context, execution pipeline.Execution, outcome *Outcome) (pipeline.ExecutionStatus, error) {
	outcome.Polls++
	o.metrics.Describe()
	desc, err := execution.Describe(ctx)
	if err != nil {
		return 0, pipeline.RemoteCallError(err, "failed to describe execution %s", execution.Arn())
	}
	if desc == nil {
		return 0, pipeline.RemoteCallError(errors.New("no description returned"), "failed to describe execution %s", execution.Arn())
	}
	if desc.FailureReason != "" {
		o.logger.Warnw("Execution reported a failure reason",
			logger.FieldExecutionArn, execution.Arn(),
			"reason", desc.FailureReason)
	}
	return desc.Status, nil
}
