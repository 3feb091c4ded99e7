package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pipeline-runner/config"
	"pipeline-runner/driver"
	"pipeline-runner/lifecycle"
	"pipeline-runner/logger"
	"pipeline-runner/metrics"
	"pipeline-runner/pipeline"
	"pipeline-runner/report"
	"pipeline-runner/sagemaker"
	"pipeline-runner/stepfunctions"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, newAWSBackend, driver.Default)
	stop()
	os.Exit(code)
}

// backendFactory binds the configured orchestration service.
type backendFactory func(ctx context.Context, cfg *config.Config) (pipeline.Backend, error)

func newAWSBackend(ctx context.Context, cfg *config.Config) (pipeline.Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, pipeline.RemoteCallError(err, "failed to load AWS config")
	}
	if cfg.Backend == config.BackendStepFunctions {
		return stepfunctions.NewService(awsCfg, cfg.StateMachineType), nil
	}
	return sagemaker.NewService(awsCfg), nil
}

// usageError is a command line that could not be accepted. It exits 2.
type usageError struct {
	cmd *cobra.Command
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(cmd *cobra.Command, format string, args ...interface{}) error {
	return &usageError{cmd: cmd, err: errors.Newf(format, args...)}
}

type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	viper      *viper.Viper
	newBackend backendFactory
	registry   *driver.Registry
	exitCode   int

	moduleName  string
	kwargs      string
	roleArn     string
	description string
	tags        string
	configFile  string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, newBackend backendFactory, registry *driver.Registry) int {
	c := &cli{
		stdout:     stdout,
		stderr:     stderr,
		viper:      config.New(),
		newBackend: newBackend,
		registry:   registry,
	}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	defer logger.Sync()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return c.exitCode
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(stderr, "Error: %v\n%s", usage.err, usage.cmd.UsageString())
		return pipeline.ExitUsage
	}
	fmt.Fprintf(stderr, "%+v\n", err)
	return pipeline.ExitFailure
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipeline-runner",
		Short: "Upsert a pipeline, run it and wait for the result",
		Long: `pipeline-runner builds a pipeline definition with a registered driver,
creates or updates it on the orchestration service, starts a new execution and
polls it until it finishes. The exit status is 0 only when the execution
succeeded.

Examples:
  pipeline-runner -n file --kwargs '{"path": "pipelines/train.json"}' --role-arn arn:aws:iam::111122223333:role/Pipelines
  pipeline-runner -n file --kwargs "{'path': 's3::https://s3.amazonaws.com/bucket/etl.asl.json'}" \
      --role-arn arn:aws:iam::111122223333:role/StepFunctions --backend stepfunctions
  pipeline-runner definition -n file --kwargs '{"path": "pipelines/train.yaml"}'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          noArgs,
		RunE:          c.runPipeline,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{cmd: cmd, err: err}
	})

	flags := root.Flags()
	flags.StringVarP(&c.moduleName, "module-name", "n", "", "Identifier of the registered pipeline driver (required)")
	flags.StringVar(&c.kwargs, "kwargs", "", "Dict string of keyword arguments for the pipeline driver")
	flags.StringVar(&c.roleArn, "role-arn", "", "Role ARN the service assumes to run the pipeline (required)")
	flags.StringVar(&c.description, "description", "", "Pipeline description")
	flags.StringVar(&c.tags, "tags", "", "List of dicts representing Key/Value pairs to tag the pipeline")

	persistent := root.PersistentFlags()
	persistent.StringVar(&c.configFile, "config", "", "Config file (yaml, toml or json)")
	persistent.String("backend", config.BackendSageMaker, "Orchestration service: sagemaker or stepfunctions")
	persistent.String("region", "us-west-2", "AWS region")
	persistent.Duration("poll-interval", lifecycle.DefaultPollInterval, "Time between status checks")
	persistent.Duration("max-wait", lifecycle.DefaultMaxWait, "Give up waiting after this long")
	persistent.String("state-machine-type", "STANDARD", "Step Functions state machine type: STANDARD or EXPRESS")
	persistent.Bool("log-json", false, "Log as JSON")
	persistent.String("log-level", "info", "Log level")
	persistent.String("metrics-textfile", "", "Write run metrics to this node_exporter textfile")
	bindFlags(c.viper, persistent, map[string]string{
		"backend":            "backend",
		"region":             "region",
		"poll_interval":      "poll-interval",
		"max_wait":           "max-wait",
		"state_machine_type": "state-machine-type",
		"log.json":           "log-json",
		"log.level":          "log-level",
		"metrics.textfile":   "metrics-textfile",
	})

	root.AddCommand(c.definitionCommand())
	return root
}

func (c *cli) definitionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Print the pipeline definition without touching the service",
		Args:  noArgs,
		RunE:  c.printDefinition,
	}
	cmd.Flags().StringVarP(&c.moduleName, "module-name", "n", "", "Identifier of the registered pipeline driver (required)")
	cmd.Flags().StringVar(&c.kwargs, "kwargs", "", "Dict string of keyword arguments for the pipeline driver")
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		// BindPFlag only fails on a nil flag.
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf(cmd, "unexpected arguments %q", args)
	}
	return nil
}

func (c *cli) runPipeline(cmd *cobra.Command, _ []string) error {
	if c.moduleName == "" || c.roleArn == "" {
		return usageErrorf(cmd, "--module-name and --role-arn are required")
	}
	ctx := cmd.Context()

	cfg, err := c.setup()
	if err != nil {
		return err
	}
	log := logger.Named("runner").With(logger.FieldModule, c.moduleName)

	// Tags are validated before anything is built or called.
	cliTags, err := pipeline.ParseTags(c.tags)
	if err != nil {
		return err
	}
	resolved, err := c.resolve(ctx, cfg, cliTags)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder(resolved.Definition.Name())
	orchestrator, err := lifecycle.New(
		lifecycle.Config{PollInterval: cfg.PollInterval, MaxWait: cfg.MaxWait},
		report.New(c.stdout),
		lifecycle.WithMetrics(recorder),
	)
	if err != nil {
		return err
	}

	outcome, runErr := orchestrator.Run(ctx, resolved.Definition, pipeline.UpsertRequest{
		RoleArn:     c.roleArn,
		Description: c.description,
		Tags:        resolved.Tags,
	})
	if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		log.Warnw("Failed to write metrics", logger.FieldError, err)
	}
	if runErr != nil {
		return runErr
	}

	c.exitCode = outcome.ExitCode()
	log.Infow("Run finished",
		logger.FieldExecutionArn, outcome.ExecutionArn,
		logger.FieldStatus, outcome.Status.String(),
		logger.FieldPolls, outcome.Polls,
		logger.FieldElapsed, outcome.Elapsed.String())
	return nil
}

func (c *cli) printDefinition(cmd *cobra.Command, _ []string) error {
	if c.moduleName == "" {
		return usageErrorf(cmd, "--module-name is required")
	}
	cfg, err := c.setup()
	if err != nil {
		return err
	}
	resolved, err := c.resolve(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	orchestrator, err := lifecycle.New(
		lifecycle.Config{PollInterval: cfg.PollInterval, MaxWait: cfg.MaxWait},
		report.New(c.stdout),
	)
	if err != nil {
		return err
	}
	_, err = orchestrator.Render(resolved.Definition)
	return err
}

// setup loads the configuration and initializes the global logger.
func (c *cli) setup() (*config.Config, error) {
	if c.configFile != "" {
		if err := config.ReadFile(c.viper, c.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(c.viper)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *cli) resolve(ctx context.Context, cfg *config.Config, cliTags []pipeline.Tag) (*driver.Resolved, error) {
	backend, err := c.newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := driver.Env{Backend: backend, Logger: logger.Named("driver")}
	return c.registry.Resolve(ctx, env, c.moduleName, c.kwargs, cliTags)
}
