package sagemaker

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/cockroachdb/errors"

	"pipeline-runner/pipeline"
)

// Execution is a SageMaker pipeline execution.
type Execution struct {
	api API
	arn string
}

// NewExecution attaches to an existing execution.
func NewExecution(api API, arn string) *Execution {
	return &Execution{api: api, arn: arn}
}

func (e *Execution) Arn() string { return e.arn }

func (e *Execution) Describe(ctx context.Context) (*pipeline.ExecutionDescription, error) {
	out, err := e.api.DescribePipelineExecution(ctx, &sagemaker.DescribePipelineExecutionInput{
		PipelineExecutionArn: aws.String(e.arn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe pipeline execution %s", e.arn)
	}
	return &pipeline.ExecutionDescription{
		Arn:           e.arn,
		Status:        pipeline.ParseStatus(string(out.PipelineExecutionStatus)),
		FailureReason: aws.ToString(out.FailureReason),
	}, nil
}

// ListSteps returns the steps ordered by start time.
func (e *Execution) ListSteps(ctx context.Context) ([]pipeline.Step, error) {
	var steps []pipeline.Step
	input := &sagemaker.ListPipelineExecutionStepsInput{
		PipelineExecutionArn: aws.String(e.arn),
		SortOrder:            types.SortOrderAscending,
	}

	paginator := sagemaker.NewListPipelineExecutionStepsPaginator(e.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list steps of %s", e.arn)
		}
		for _, s := range page.PipelineExecutionSteps {
			steps = append(steps, pipeline.Step{
				Name:          aws.ToString(s.StepName),
				Status:        string(s.StepStatus),
				StartTime:     aws.ToTime(s.StartTime),
				EndTime:       aws.ToTime(s.EndTime),
				FailureReason: aws.ToString(s.FailureReason),
			})
		}
	}
	return steps, nil
}
