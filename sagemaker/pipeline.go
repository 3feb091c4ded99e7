// Package sagemaker binds pipeline definitions to Amazon SageMaker Pipelines.
package sagemaker

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"pipeline-runner/pipeline"
)

// API is the subset of the SageMaker client used by the runner.
type API interface {
	CreatePipeline(ctx context.Context, params *sagemaker.CreatePipelineInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreatePipelineOutput, error)
	UpdatePipeline(ctx context.Context, params *sagemaker.UpdatePipelineInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdatePipelineOutput, error)
	AddTags(ctx context.Context, params *sagemaker.AddTagsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.AddTagsOutput, error)
	StartPipelineExecution(ctx context.Context, params *sagemaker.StartPipelineExecutionInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StartPipelineExecutionOutput, error)
	DescribePipelineExecution(ctx context.Context, params *sagemaker.DescribePipelineExecutionInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribePipelineExecutionOutput, error)
	ListPipelineExecutionSteps(ctx context.Context, params *sagemaker.ListPipelineExecutionStepsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListPipelineExecutionStepsOutput, error)
}

type Service struct {
	api API
}

func NewService(cfg aws.Config) *Service {
	return &Service{api: sagemaker.NewFromConfig(cfg)}
}

func NewServiceWithAPI(api API) *Service {
	return &Service{api: api}
}

// Definition implements pipeline.Backend.
func (s *Service) Definition(name, document string) pipeline.Definition {
	return &Pipeline{api: s.api, name: name, document: document}
}

// Pipeline is a SageMaker pipeline definition keyed by its name.
type Pipeline struct {
	api      API
	name     string
	document string
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Definition() (string, error) { return p.document, nil }

// Upsert creates the pipeline, or updates it and its tags if a pipeline with
// the same name already exists.
func (p *Pipeline) Upsert(ctx context.Context, req pipeline.UpsertRequest) (*pipeline.UpsertResult, error) {
	created, err := p.api.CreatePipeline(ctx, &sagemaker.CreatePipelineInput{
		PipelineName:        aws.String(p.name),
		PipelineDefinition:  aws.String(p.document),
		PipelineDescription: optionalString(req.Description),
		RoleArn:             aws.String(req.RoleArn),
		Tags:                toTags(req.Tags),
		ClientRequestToken:  aws.String(uuid.NewString()),
	})
	if err == nil {
		arn := aws.ToString(created.PipelineArn)
		return &pipeline.UpsertResult{
			PipelineArn: arn,
			Action:      pipeline.ActionCreated,
			Response:    response(arn, created.ResultMetadata),
		}, nil
	}
	if !alreadyExists(err) {
		return nil, errors.Wrapf(err, "failed to create pipeline %s", p.name)
	}

	updated, err := p.api.UpdatePipeline(ctx, &sagemaker.UpdatePipelineInput{
		PipelineName:        aws.String(p.name),
		PipelineDefinition:  aws.String(p.document),
		PipelineDescription: optionalString(req.Description),
		RoleArn:             aws.String(req.RoleArn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update pipeline %s", p.name)
	}
	arn := aws.ToString(updated.PipelineArn)

	if len(req.Tags) > 0 {
		if _, err := p.api.AddTags(ctx, &sagemaker.AddTagsInput{
			ResourceArn: aws.String(arn),
			Tags:        toTags(req.Tags),
		}); err != nil {
			return nil, errors.Wrapf(err, "failed to tag pipeline %s", arn)
		}
	}

	return &pipeline.UpsertResult{
		PipelineArn: arn,
		Action:      pipeline.ActionUpdated,
		Response:    response(arn, updated.ResultMetadata),
	}, nil
}

// Start begins a new execution. Every call uses a fresh client request token.
func (p *Pipeline) Start(ctx context.Context) (pipeline.Execution, error) {
	out, err := p.api.StartPipelineExecution(ctx, &sagemaker.StartPipelineExecutionInput{
		PipelineName:       aws.String(p.name),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start pipeline %s", p.name)
	}
	return &Execution{api: p.api, arn: aws.ToString(out.PipelineExecutionArn)}, nil
}

func alreadyExists(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" && strings.Contains(apiErr.ErrorMessage(), "already exists")
}

func toTags(tags []pipeline.Tag) []types.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func response(arn string, metadata middleware.Metadata) map[string]string {
	resp := map[string]string{"PipelineArn": arn}
	if id, ok := awsmiddleware.GetRequestIDMetadata(metadata); ok {
		resp["RequestId"] = id
	}
	return resp
}
