package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-runner/config"
	"pipeline-runner/driver"
	"pipeline-runner/pipeline"
)

const roleArn = "arn:aws:iam::111122223333:role/Pipelines"

type fakeExecution struct {
	status pipeline.ExecutionStatus
}

func (e *fakeExecution) Arn() string { return "arn:aws:sagemaker:us-west-2:111122223333:pipeline/train/execution/1" }

func (e *fakeExecution) Describe(ctx context.Context) (*pipeline.ExecutionDescription, error) {
	return &pipeline.ExecutionDescription{Arn: e.Arn(), Status: e.status}, nil
}

func (e *fakeExecution) ListSteps(ctx context.Context) ([]pipeline.Step, error) {
	return []pipeline.Step{{Name: "Train", Status: e.status.String()}}, nil
}

type fakeDefinition struct {
	name     string
	document string
	backend  *fakeBackend
}

func (d *fakeDefinition) Name() string                { return d.name }
func (d *fakeDefinition) Definition() (string, error) { return d.document, nil }

func (d *fakeDefinition) Upsert(ctx context.Context, req pipeline.UpsertRequest) (*pipeline.UpsertResult, error) {
	d.backend.upserts = append(d.backend.upserts, req)
	return &pipeline.UpsertResult{PipelineArn: "arn:aws:sagemaker:us-west-2:111122223333:pipeline/" + d.name, Action: pipeline.ActionCreated}, nil
}

func (d *fakeDefinition) Start(ctx context.Context) (pipeline.Execution, error) {
	d.backend.starts++
	return &fakeExecution{status: d.backend.status}, nil
}

type fakeBackend struct {
	status   pipeline.ExecutionStatus
	builds   int
	upserts  []pipeline.UpsertRequest
	starts   int
	configs  []*config.Config
	definers []string
}

func (b *fakeBackend) Definition(name, document string) pipeline.Definition {
	b.definers = append(b.definers, name)
	return &fakeDefinition{name: name, document: document, backend: b}
}

func (b *fakeBackend) factory(ctx context.Context, cfg *config.Config) (pipeline.Backend, error) {
	b.builds++
	b.configs = append(b.configs, cfg)
	return b, nil
}

func testRegistry(t *testing.T) *driver.Registry {
	t.Helper()
	r := driver.NewRegistry()
	r.MustRegister("train", driver.Driver{
		Pipeline: func(ctx context.Context, env driver.Env, kwargs pipeline.Kwargs) (pipeline.Definition, error) {
			name := "train"
			if v, ok := kwargs.String("name"); ok {
				name = v
			}
			return env.Backend.Definition(name, `{"Version":"2020-12-01","Steps":[]}`), nil
		},
		Kwargs: true,
	})
	r.MustRegister(driver.FileDriverID, driver.FileDriver())
	return r
}

func execute(t *testing.T, backend *fakeBackend, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, backend.factory, testRegistry(t))
	return code, stdout.String(), stderr.String()
}

func TestRun_MissingRequiredFlags(t *testing.T) {
	cases := map[string][]string{
		"no flags":        {},
		"no role arn":     {"--module-name", "train"},
		"no module name":  {"--role-arn", roleArn},
		"unknown flag":    {"-n", "train", "--role-arn", roleArn, "--bogus"},
		"stray arguments": {"-n", "train", "--role-arn", roleArn, "extra"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			backend := &fakeBackend{status: pipeline.StatusSucceeded}
			code, _, stderr := execute(t, backend, args...)
			assert.Equal(t, pipeline.ExitUsage, code)
			assert.Contains(t, stderr, "Usage:")
			assert.Zero(t, backend.builds)
		})
	}
}

func TestRun_Succeeded(t *testing.T) {
	backend := &fakeBackend{status: pipeline.StatusSucceeded}
	code, stdout, _ := execute(t, backend,
		"-n", "train",
		"--kwargs", "{'name': 'abalone'}",
		"--role-arn", roleArn,
		"--description", "nightly",
		"--tags", `[{"Key": "team", "Value": "ml"}]`,
	)

	assert.Equal(t, pipeline.ExitSuccess, code)
	assert.Equal(t, []string{"abalone"}, backend.definers)
	require.Len(t, backend.upserts, 1)
	assert.Equal(t, pipeline.UpsertRequest{
		RoleArn:     roleArn,
		Description: "nightly",
		Tags:        []pipeline.Tag{{Key: "team", Value: "ml"}},
	}, backend.upserts[0])
	assert.Equal(t, 1, backend.starts)
	assert.Contains(t, stdout, "Succeeded")
}

func TestRun_FailedExitsOne(t *testing.T) {
	backend := &fakeBackend{status: pipeline.StatusFailed}
	code, _, _ := execute(t, backend, "-n", "train", "--role-arn", roleArn)
	assert.Equal(t, pipeline.ExitFailure, code)
	assert.Equal(t, 1, backend.starts)
}

func TestRun_MalformedInputMakesNoRemoteCalls(t *testing.T) {
	cases := map[string][]string{
		"tags":   {"-n", "train", "--role-arn", roleArn, "--tags", "[{'Key': 'a'"},
		"kwargs": {"-n", "train", "--role-arn", roleArn, "--kwargs", "{'name': "},
		"module": {"-n", "missing", "--role-arn", roleArn},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			backend := &fakeBackend{status: pipeline.StatusSucceeded}
			code, _, stderr := execute(t, backend, args...)
			assert.Equal(t, pipeline.ExitFailure, code)
			assert.NotEmpty(t, stderr)
			assert.Empty(t, backend.upserts)
			assert.Zero(t, backend.starts)
		})
	}
}

func TestRun_ConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: stepfunctions\nregion: eu-west-1\npoll_interval: 5s\n"), 0o644))
	t.Setenv("PIPELINE_RUNNER_REGION", "ap-south-1")

	backend := &fakeBackend{status: pipeline.StatusSucceeded}
	code, _, _ := execute(t, backend, "-n", "train", "--role-arn", roleArn, "--config", path, "--max-wait", "1m")
	require.Equal(t, pipeline.ExitSuccess, code)
	require.Len(t, backend.configs, 1)

	cfg := backend.configs[0]
	assert.Equal(t, config.BackendStepFunctions, cfg.Backend)
	assert.Equal(t, "ap-south-1", cfg.Region)
	assert.Equal(t, "5s", cfg.PollInterval.String())
	assert.Equal(t, "1m0s", cfg.MaxWait.String())
}

func TestRun_WritesMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.prom")
	backend := &fakeBackend{status: pipeline.StatusSucceeded}
	code, _, _ := execute(t, backend, "-n", "train", "--role-arn", roleArn, "--metrics-textfile", path)
	require.Equal(t, pipeline.ExitSuccess, code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline_runner_describe_calls_total")
}

func TestDefinitionCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Version: '2020-12-01'\nSteps: []\n"), 0o644))

	backend := &fakeBackend{status: pipeline.StatusSucceeded}
	code, stdout, _ := execute(t, backend, "definition", "-n", driver.FileDriverID, "--kwargs", `{"path": "`+path+`"}`)

	assert.Equal(t, pipeline.ExitSuccess, code)
	assert.Contains(t, stdout, "etl")
	assert.Contains(t, stdout, `"Version": "2020-12-01"`)
	assert.Empty(t, backend.upserts)
	assert.Zero(t, backend.starts)
}

func TestDefinitionCommand_RequiresModule(t *testing.T) {
	code, _, _ := execute(t, &fakeBackend{}, "definition")
	assert.Equal(t, pipeline.ExitUsage, code)
}
