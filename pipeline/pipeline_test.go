package pipeline_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-runner/pipeline"
)

func TestExitCode(t *testing.T) {
	statuses := []pipeline.ExecutionStatus{
		pipeline.StatusExecuting,
		pipeline.StatusStopping,
		pipeline.StatusSucceeded,
		pipeline.StatusFailed,
		pipeline.StatusStopped,
	}
	for _, s := range statuses {
		want := pipeline.ExitFailure
		if s == pipeline.StatusSucceeded {
			want = pipeline.ExitSuccess
		}
		assert.Equal(t, want, pipeline.ExitCode(s), s.String())
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]pipeline.ExecutionStatus{
		"Executing":  pipeline.StatusExecuting,
		"InProgress": pipeline.StatusExecuting,
		"RUNNING":    pipeline.StatusExecuting,
		"Succeeded":  pipeline.StatusSucceeded,
		"SUCCEEDED":  pipeline.StatusSucceeded,
		"Failed":     pipeline.StatusFailed,
		"TIMED_OUT":  pipeline.StatusFailed,
		"Stopped":    pipeline.StatusStopped,
		"ABORTED":    pipeline.StatusStopped,
		"Stopping":   pipeline.StatusStopping,
		"":           pipeline.StatusExecuting,
	}
	for label, want := range tests {
		assert.Equal(t, want, pipeline.ParseStatus(label), label)
	}

	assert.True(t, pipeline.StatusStopped.IsTerminal())
	assert.False(t, pipeline.StatusStopping.IsTerminal())
}

func TestMergeTags(t *testing.T) {
	base := []pipeline.Tag{{Key: "team", Value: "ml"}, {Key: "env", Value: "dev"}}
	extra := []pipeline.Tag{{Key: "env", Value: "prod"}, {Key: "project", Value: "abalone"}}

	merged := pipeline.MergeTags(base, extra)
	assert.Equal(t, []pipeline.Tag{
		{Key: "team", Value: "ml"},
		{Key: "env", Value: "prod"},
		{Key: "project", Value: "abalone"},
	}, merged)
	assert.Equal(t, "dev", base[1].Value, "base must not be modified")
}

func TestParseKwargs(t *testing.T) {
	kwargs, err := pipeline.ParseKwargs(`{"region": "us-east-1", "retries": 3}`)
	require.NoError(t, err)
	region, ok := kwargs.String("region")
	assert.True(t, ok)
	assert.Equal(t, "us-east-1", region)
	retries, _ := kwargs.String("retries")
	assert.Equal(t, "3", retries)

	kwargs, err = pipeline.ParseKwargs(`{'sagemaker_project_name': 'churn', 'cache': True}`)
	require.NoError(t, err)
	assert.Equal(t, "churn", kwargs["sagemaker_project_name"])
	assert.Equal(t, true, kwargs["cache"])

	kwargs, err = pipeline.ParseKwargs(`{'pipeline_name': None, 'label': 'None', 'extra': {'inner': None}}`)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Kwargs{
		"pipeline_name": nil,
		"label":         "None",
		"extra":         map[string]interface{}{"inner": nil},
	}, kwargs)
	_, ok = kwargs.String("pipeline_name")
	assert.False(t, ok)

	kwargs, err = pipeline.ParseKwargs("")
	require.NoError(t, err)
	assert.Empty(t, kwargs)

	for _, blob := range []string{`{"region": "us-east-1"`, `just a string`, `[1, 2]`} {
		_, err = pipeline.ParseKwargs(blob)
		assert.True(t, errors.Is(err, pipeline.ErrArgument), blob)
	}
}

func TestParseTags(t *testing.T) {
	tags, err := pipeline.ParseTags(`[{"Key": "team", "Value": "ml"}, {'Key': 'cost-center', 'Value': 42}]`)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Tag{{Key: "team", Value: "ml"}, {Key: "cost-center", Value: "42"}}, tags)

	tags, err = pipeline.ParseTags("  ")
	require.NoError(t, err)
	assert.Nil(t, tags)

	for _, blob := range []string{`[{"Key": "team"`, `{"Key": "team"}`, `[{"Value": "orphan"}]`} {
		_, err = pipeline.ParseTags(blob)
		assert.True(t, errors.Is(err, pipeline.ErrArgument), blob)
	}
}

func TestStepDuration(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	step := pipeline.Step{StartTime: start}
	assert.Zero(t, step.Duration())

	step.EndTime = start.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, step.Duration())
}
